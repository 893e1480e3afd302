// Package consumer reads booking submissions from Kafka and hands them to
// the reconciler.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/thermoclinics/clinicsync/internal/booking"
	"github.com/thermoclinics/clinicsync/internal/loglines"
	"github.com/thermoclinics/clinicsync/internal/lock"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
	"github.com/thermoclinics/clinicsync/libs/kafkax"
)

// submissionEvent is the wire form of a booking submission.
type submissionEvent struct {
	EventChoice string `json:"event_choice"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	DOB         string `json:"date_of_birth"`
	City        string `json:"city"`
	Comments    string `json:"comments"`
	Motivation  string `json:"motivation"`
	Table       string `json:"table"`
	SubmittedAt string `json:"submitted_at"`
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

// Consumer is the submission intake loop. Each message lands its row in the
// target response table and runs the reconciler; the marker makes
// redelivered messages no-ops.
type Consumer struct {
	reader *kafka.Reader
	store  sheet.Store
	rec    *booking.Reconciler
	marker *lock.Marker
	logger *slog.Logger
}

func New(logger *slog.Logger, store sheet.Store, rec *booking.Reconciler, marker *lock.Marker, cfg Config) *Consumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, store: store, rec: rec, marker: marker, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		if c.marker != nil && meta.EventID != "" {
			first, err := c.marker.First(ctxSpan, "submission:"+meta.EventID)
			if err != nil {
				c.logger.Error("idempotency marker failed", "err", err)
				span.RecordError(err)
				span.End()
				continue
			}
			if !first {
				c.logger.Info("duplicate event ignored", "event_id", meta.EventID)
				span.End()
				continue
			}
		}

		if err := c.handle(ctxSpan, msg); err != nil {
			c.logger.Error("submission handling failed", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
		}
		span.End()
	}
}

// handle decodes one submission, appends its landed row and reconciles it.
// All of the invocation's records flush in one batch when it finishes.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	logger, flush := loglines.New(c.logger)
	defer flush()

	var ev submissionEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode submission: %w", err)
	}

	sub := booking.Submission{
		EventChoice: ev.EventChoice,
		Email:       ev.Email,
		FirstName:   ev.FirstName,
		LastName:    ev.LastName,
		Phone:       ev.Phone,
		DOB:         ev.DOB,
		City:        ev.City,
		Comments:    ev.Comments,
		Motivation:  ev.Motivation,
		Source:      booking.SourceForm,
		ReceivedAt:  time.Now(),
		Table:       ev.Table,
	}
	if ts, err := time.Parse(time.RFC3339, ev.SubmittedAt); err == nil {
		sub.ReceivedAt = ts
	}
	switch sub.Table {
	case tables.OpenResponses, tables.BeslotenResponses:
	case "":
		sub.Table = tables.OpenResponses
	default:
		return fmt.Errorf("unknown response table %q", sub.Table)
	}

	headers, _, err := c.store.ReadAll(ctx, sub.Table)
	if err != nil {
		return fmt.Errorf("read %s: %w", sub.Table, err)
	}
	if err := c.store.AppendRows(ctx, sub.Table, []sheet.Row{booking.LandedRow(headers, sub)}); err != nil {
		return fmt.Errorf("land submission row: %w", err)
	}
	pos, err := c.store.LastRow(ctx, sub.Table)
	if err != nil {
		return err
	}
	sub.Row = pos

	logger.Info("submission landed", "table", sub.Table, "row", pos, "email", sub.Email)

	res, err := c.rec.Process(ctx, sub)
	if err != nil {
		return err
	}
	logger.Info("submission reconciled",
		"clinic", res.Clinic.DisplayName(), "duplicate", res.Duplicate, "sequence", res.Sequence)
	return nil
}
