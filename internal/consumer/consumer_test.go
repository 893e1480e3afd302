package consumer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/thermoclinics/clinicsync/internal/allowlist"
	"github.com/thermoclinics/clinicsync/internal/booking"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/drive"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

func newTestConsumer(t *testing.T) (*Consumer, *sheet.MemStore) {
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
	row := sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "0", "Open", "clinic-1", "", ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}

	logger := slog.Default()
	cat := catalog.NewManager(store, logger)
	rec := booking.NewReconciler(store, cat, allowlist.New(store, logger), drive.NewMemStore(), "root", nil, nil, logger)
	return &Consumer{store: store, rec: rec, logger: logger}, store
}

func TestHandle_LandsAndReconciles(t *testing.T) {
	c, store := newTestConsumer(t)
	ctx := context.Background()

	msg := kafka.Message{Value: []byte(`{
		"event_choice": "zondag 7 december 2025 10:00-13:00, Amsterdam (8 plaatsen over)",
		"email": "anna@example.com",
		"first_name": "Anna",
		"last_name": "de Vries",
		"table": "Open Form Responses",
		"submitted_at": "2025-11-20T09:30:00+01:00"
	}`)}

	if err := c.handle(ctx, msg); err != nil {
		t.Fatal(err)
	}

	headers, rows, err := store.ReadAll(ctx, tables.OpenResponses)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("response rows = %d, want 1", len(rows))
	}
	hm := sheet.Headers(headers)
	if got := hm.Value(rows[0], tables.ColSequence); got != "01" {
		t.Errorf("sequence = %q", got)
	}
	if got := hm.Value(rows[0], tables.ColRegMethod); got != booking.SourceForm {
		t.Errorf("registration method = %q", got)
	}
}

func TestHandle_UnknownTableRejected(t *testing.T) {
	c, _ := newTestConsumer(t)
	msg := kafka.Message{Value: []byte(`{
		"event_choice": "zondag 7 december 2025 10:00-13:00, Amsterdam",
		"email": "anna@example.com",
		"table": "Onbekende Tabel"
	}`)}
	if err := c.handle(context.Background(), msg); err == nil {
		t.Fatal("expected an error for an unknown table")
	}
}

func TestHandle_MalformedPayload(t *testing.T) {
	c, _ := newTestConsumer(t)
	msg := kafka.Message{Value: []byte(`{not json`)}
	if err := c.handle(context.Background(), msg); err == nil {
		t.Fatal("expected a decode error")
	}
}
