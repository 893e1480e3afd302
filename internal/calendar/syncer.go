package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thermoclinics/clinicsync/internal/catalog"
)

// Syncer mirrors catalog rows into the agenda, creating events for new
// clinics and updating the ones it already placed.
type Syncer struct {
	svc     Service
	catalog *catalog.Manager
	logger  *slog.Logger
}

func NewSyncer(svc Service, cat *catalog.Manager, logger *slog.Logger) *Syncer {
	return &Syncer{svc: svc, catalog: cat, logger: logger}
}

// SyncClinic brings the agenda entry for one clinic in line with its row.
// Clinics without a date or location are skipped. When the stored event
// reference no longer resolves a fresh event is created and the new
// reference written back to the catalog.
func (s *Syncer) SyncClinic(ctx context.Context, c catalog.Clinic) error {
	if !c.HasDate || c.Location == "" {
		return nil
	}

	ev := Event{
		Ref:      c.CalendarRef,
		Title:    EventTitle(c.Location, c.BookedSeats),
		Location: c.Location,
	}
	ev.Start, ev.End, ev.AllDay = EventWindow(c.Date, c.Time)

	if c.CalendarRef != "" {
		err := s.svc.UpdateEvent(ctx, ev)
		if err == nil {
			s.logger.Debug("calendar event updated", "clinic", c.DisplayName(), "ref", c.CalendarRef)
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("update calendar event %s: %w", c.CalendarRef, err)
		}
		s.logger.Warn("stored calendar event missing, creating a new one",
			"clinic", c.DisplayName(), "ref", c.CalendarRef)
	}

	ref, err := s.svc.CreateEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("create calendar event for %q: %w", c.DisplayName(), err)
	}
	if err := s.catalog.SetCalendarRef(ctx, c, ref); err != nil {
		return fmt.Errorf("store calendar ref for %q: %w", c.DisplayName(), err)
	}
	s.logger.Info("calendar event created", "clinic", c.DisplayName(), "ref", ref)
	return nil
}

// SyncAll walks the whole catalog. Per-clinic failures are logged and do
// not stop the pass.
func (s *Syncer) SyncAll(ctx context.Context) error {
	clinics, err := s.catalog.All(ctx)
	if err != nil {
		return err
	}
	for _, c := range clinics {
		if err := s.SyncClinic(ctx, c); err != nil {
			s.logger.Error("calendar sync failed", "clinic", c.DisplayName(), "error", err)
		}
	}
	return nil
}
