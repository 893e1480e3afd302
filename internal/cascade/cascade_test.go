package cascade

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/thermoclinics/clinicsync/internal/calendar"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/drive"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

func newStore(t *testing.T) *sheet.MemStore {
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
	return store
}

func clinicPair(t *testing.T, store *sheet.MemStore, oldTime, newTime string) (catalog.Clinic, catalog.Clinic, *catalog.Manager) {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewManager(store, slog.Default())
	row := sheet.Row{"07-12-2025", oldTime, "Amsterdam", "8", "1", "Open", "clinic-1", "", ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}
	before, err := cat.FindByID(ctx, "clinic-1")
	if err != nil {
		t.Fatal(err)
	}
	after := before
	after.Time = newTime
	if err := cat.Save(ctx, after); err != nil {
		t.Fatal(err)
	}
	return before, after, cat
}

func addResponse(t *testing.T, store *sheet.MemStore, table, email, event string) {
	t.Helper()
	headers, _, err := store.ReadAll(context.Background(), table)
	if err != nil {
		t.Fatal(err)
	}
	hm := sheet.Headers(headers)
	row := make(sheet.Row, len(headers))
	hm.Set(&row, tables.ColTimestamp, time.Now().Format("2006-01-02 15:04:05"))
	hm.Set(&row, tables.ColEmail, email)
	hm.Set(&row, tables.ColClinic, event)
	if err := store.AppendRows(context.Background(), table, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}
}

func TestClinicEdited_TimeChangeRenamesPreservingSuffix(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	before, after, cat := clinicPair(t, store, "10:00-13:00", "14:00-17:00")

	oldName := "zondag 7 december 2025 10:00-13:00, Amsterdam"
	addResponse(t, store, tables.OpenResponses, "anna@example.com", oldName+" (3 plaatsen over)")
	addResponse(t, store, tables.OpenResponses, "bob@example.com", oldName)
	addResponse(t, store, tables.OpenResponses, "other@example.com", "zaterdag 13 december 2025 09:00-12:00, Utrecht")

	p := NewPropagator(store, cat, nil, nil, slog.Default())
	if err := p.ClinicEdited(ctx, before, after); err != nil {
		t.Fatal(err)
	}

	headers, rows, err := store.ReadAll(ctx, tables.OpenResponses)
	if err != nil {
		t.Fatal(err)
	}
	hm := sheet.Headers(headers)

	newName := "zondag 7 december 2025 14:00-17:00, Amsterdam"
	if got := hm.Value(rows[0], tables.ColClinic); got != newName+" (3 plaatsen over)" {
		t.Errorf("row 1 = %q, seat suffix must survive the rename", got)
	}
	if got := hm.Value(rows[1], tables.ColClinic); got != newName {
		t.Errorf("row 2 = %q", got)
	}
	if got := hm.Value(rows[2], tables.ColClinic); got != "zaterdag 13 december 2025 09:00-12:00, Utrecht" {
		t.Errorf("unrelated row touched: %q", got)
	}
}

func TestClinicEdited_RenamesEventFolder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	cat := catalog.NewManager(store, slog.Default())
	dr := drive.NewMemStore()
	folder, err := dr.CreateFolder(ctx, "root", "20251207 1000-1300 Amsterdam")
	if err != nil {
		t.Fatal(err)
	}
	row := sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "1", "Open", "clinic-1", folder.ID, ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}
	before, err := cat.FindByID(ctx, "clinic-1")
	if err != nil {
		t.Fatal(err)
	}
	after := before
	after.Time = "14:00-17:00"
	if err := cat.Save(ctx, after); err != nil {
		t.Fatal(err)
	}

	p := NewPropagator(store, cat, dr, nil, slog.Default())
	if err := p.ClinicEdited(ctx, before, after); err != nil {
		t.Fatal(err)
	}

	renamed, err := dr.FolderByID(ctx, folder.ID)
	if err != nil {
		t.Fatal(err)
	}
	if renamed.Name != "20251207 1400-1700 Amsterdam" {
		t.Errorf("folder name = %q", renamed.Name)
	}
}

func TestClinicEdited_TypeChangeMovesRows(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	cat := catalog.NewManager(store, slog.Default())
	row := sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "2", "Open", "clinic-1", "", ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}
	before, _ := cat.FindByID(ctx, "clinic-1")
	after := before
	after.Type = catalog.TypeBesloten
	if err := cat.Save(ctx, after); err != nil {
		t.Fatal(err)
	}

	name := before.DisplayName()
	addResponse(t, store, tables.OpenResponses, "anna@example.com", name)
	addResponse(t, store, tables.OpenResponses, "stay@example.com", "zaterdag 13 december 2025 09:00-12:00, Utrecht")
	addResponse(t, store, tables.OpenResponses, "bob@example.com", name+" (1 plaats over)")

	p := NewPropagator(store, cat, nil, nil, slog.Default())
	if err := p.ClinicEdited(ctx, before, after); err != nil {
		t.Fatal(err)
	}

	_, openRows, _ := store.ReadAll(ctx, tables.OpenResponses)
	if len(openRows) != 1 {
		t.Fatalf("open table has %d rows, want 1", len(openRows))
	}
	headers, beslotenRows, _ := store.ReadAll(ctx, tables.BeslotenResponses)
	if len(beslotenRows) != 2 {
		t.Fatalf("besloten table has %d rows, want 2", len(beslotenRows))
	}
	hm := sheet.Headers(headers)
	if got := hm.Value(beslotenRows[0], tables.ColEmail); got != "anna@example.com" {
		t.Errorf("first moved row email = %q", got)
	}
}

func TestClinicEdited_HeaderMismatchAbortsMove(t *testing.T) {
	ctx := context.Background()
	store := sheet.NewMemStore()
	if err := store.EnsureTable(ctx, tables.Catalog, tables.CatalogHeaders()); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureTable(ctx, tables.OpenResponses, tables.ResponseHeaders()); err != nil {
		t.Fatal(err)
	}
	// Target table is missing a column.
	short := tables.ResponseHeaders()[:len(tables.ResponseHeaders())-1]
	if err := store.EnsureTable(ctx, tables.BeslotenResponses, short); err != nil {
		t.Fatal(err)
	}

	cat := catalog.NewManager(store, slog.Default())
	row := sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "1", "Open", "clinic-1", "", ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}
	before, _ := cat.FindByID(ctx, "clinic-1")
	after := before
	after.Type = catalog.TypeBesloten
	if err := cat.Save(ctx, after); err != nil {
		t.Fatal(err)
	}
	addResponse(t, store, tables.OpenResponses, "anna@example.com", before.DisplayName())

	p := NewPropagator(store, cat, nil, nil, slog.Default())
	err := p.ClinicEdited(ctx, before, after)
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("err = %v, want ErrHeaderMismatch", err)
	}

	_, openRows, _ := store.ReadAll(ctx, tables.OpenResponses)
	if len(openRows) != 1 {
		t.Errorf("source rows must stay put on abort, have %d", len(openRows))
	}
	_, beslotenRows, _ := store.ReadAll(ctx, tables.BeslotenResponses)
	if len(beslotenRows) != 0 {
		t.Errorf("zero rows must be copied on abort, have %d", len(beslotenRows))
	}
}

func TestClinicEdited_ResyncsCalendar(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	before, after, cat := clinicPair(t, store, "10:00-13:00", "14:00-17:00")

	svc := calendar.NewMemService()
	syncer := calendar.NewSyncer(svc, cat, slog.Default())
	p := NewPropagator(store, cat, nil, syncer, slog.Default())
	if err := p.ClinicEdited(ctx, before, after); err != nil {
		t.Fatal(err)
	}

	fresh, _ := cat.FindByID(ctx, "clinic-1")
	if fresh.CalendarRef == "" {
		t.Fatal("calendar event not created on edit")
	}
	ev, err := svc.EventByRef(ctx, fresh.CalendarRef)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Start.Hour() != 14 {
		t.Errorf("event start hour = %d, want 14", ev.Start.Hour())
	}
}
