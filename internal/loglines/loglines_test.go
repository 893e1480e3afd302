package loglines

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestBufferedFlushOnce(t *testing.T) {
	var buf bytes.Buffer
	sink := slog.New(slog.NewJSONHandler(&buf, nil))

	logger, flush := New(sink)
	logger.Info("eerste")
	logger.Info("tweede", "rij", 3)

	if buf.Len() != 0 {
		t.Fatal("records emitted before flush")
	}

	flush()
	out := buf.String()
	if !strings.Contains(out, "eerste") || !strings.Contains(out, "tweede") {
		t.Fatalf("missing records: %s", out)
	}
	if strings.Index(out, "eerste") > strings.Index(out, "tweede") {
		t.Fatal("records out of order")
	}

	before := buf.Len()
	flush()
	if buf.Len() != before {
		t.Fatal("second flush emitted records again")
	}
}

func TestSinkLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	sink := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger, flush := New(sink)
	logger.Debug("stil")
	logger.Info("luid")
	flush()

	out := buf.String()
	if strings.Contains(out, "stil") {
		t.Error("debug record should be dropped at the sink level")
	}
	if !strings.Contains(out, "luid") {
		t.Error("info record missing")
	}
}

func TestWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	sink := slog.New(slog.NewJSONHandler(&buf, nil))

	logger, flush := New(sink)
	logger.With("tabel", "Open Form Responses").Info("rij toegevoegd")
	flush()

	if !strings.Contains(buf.String(), "Open Form Responses") {
		t.Fatalf("attr lost: %s", buf.String())
	}
}
