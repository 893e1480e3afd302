package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/thermoclinics/clinicsync/internal/archive"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

var fixedNow = time.Date(2026, 1, 15, 11, 30, 0, 0, time.Local)

func newTestWorker(t *testing.T, sweep bool) (*Worker, *sheet.MemStore) {
	t.Helper()
	ctx := context.Background()
	store := sheet.NewMemStore()
	if err := store.EnsureTable(ctx, tables.Catalog, tables.CatalogHeaders()); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{tables.OpenResponses, tables.BeslotenResponses} {
		if err := store.EnsureTable(ctx, table, tables.ResponseHeaders()); err != nil {
			t.Fatal(err)
		}
	}
	logger := slog.Default()
	engine := archive.NewEngine(store, catalog.NewManager(store, logger), logger)
	engine.Now = func() time.Time { return fixedNow }
	w := New(engine, nil, logger, Config{SweepArchived: sweep})
	return w, store
}

func seedOldClinic(t *testing.T, store sheet.Store) {
	t.Helper()
	ctx := context.Background()
	row := sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "1", "Open", "old-1", "", ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}
	headers, _, err := store.ReadAll(ctx, tables.OpenResponses)
	if err != nil {
		t.Fatal(err)
	}
	hm := sheet.Headers(headers)
	p := make(sheet.Row, len(headers))
	hm.Set(&p, tables.ColEmail, "anna@example.com")
	hm.Set(&p, tables.ColClinic, "zondag 7 december 2025 10:00-13:00, Amsterdam")
	hm.Set(&p, tables.ColSequence, "01")
	if err := store.AppendRows(ctx, tables.OpenResponses, []sheet.Row{p}); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnce_ArchivesAndSweeps(t *testing.T) {
	w, store := newTestWorker(t, true)
	seedOldClinic(t, store)

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.ClinicsArchived != 1 {
		t.Errorf("clinics archived = %d, want 1", report.ClinicsArchived)
	}
	if report.ParticipantsArchived != 1 {
		t.Errorf("participants archived = %d, want 1", report.ParticipantsArchived)
	}
	if report.RowsDeleted != 1 {
		t.Errorf("rows deleted = %d, want 1", report.RowsDeleted)
	}

	_, rows, err := store.ReadAll(context.Background(), tables.OpenResponses)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("response rows left = %d, want 0", len(rows))
	}
}

func TestRunOnce_WithoutSweepKeepsFlaggedRows(t *testing.T) {
	w, store := newTestWorker(t, false)
	seedOldClinic(t, store)

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.RowsDeleted != 0 {
		t.Errorf("rows deleted = %d, want 0", report.RowsDeleted)
	}

	headers, rows, err := store.ReadAll(context.Background(), tables.OpenResponses)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("response rows = %d, want 1", len(rows))
	}
	if got := sheet.Headers(headers).Value(rows[0], tables.ColArchived); got != tables.ArchivedMark {
		t.Errorf("archived flag = %q, want %q", got, tables.ArchivedMark)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	w, store := newTestWorker(t, false)
	seedOldClinic(t, store)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		_, rows, err := store.ReadAll(context.Background(), tables.Catalog)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("archival tick never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
