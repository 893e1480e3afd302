package calendar

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

func TestEventTitle(t *testing.T) {
	cases := []struct {
		booked int
		want   string
	}{
		{0, "Thermoclinic op/bij Amsterdam (OPTIE - nog geen deelnemers)"},
		{1, "Thermoclinic op/bij Amsterdam (1 deelnemer)"},
		{4, "Thermoclinic op/bij Amsterdam (4 deelnemers)"},
	}
	for _, c := range cases {
		if got := EventTitle("Amsterdam", c.booked); got != c.want {
			t.Errorf("EventTitle(%d) = %q, want %q", c.booked, got, c.want)
		}
	}
}

func TestEventWindow(t *testing.T) {
	date := time.Date(2025, 12, 7, 0, 0, 0, 0, time.Local)

	start, end, allDay := EventWindow(date, "10:00-13:00")
	if allDay {
		t.Fatal("range should not be all-day")
	}
	if start.Hour() != 10 || end.Hour() != 13 {
		t.Fatalf("got %v - %v", start, end)
	}

	// Dotted separator and missing minutes.
	start, end, allDay = EventWindow(date, "10.30 - 14")
	if allDay || start.Hour() != 10 || start.Minute() != 30 || end.Hour() != 14 || end.Minute() != 0 {
		t.Fatalf("got %v - %v allDay=%v", start, end, allDay)
	}

	// End before start rolls over to the next day.
	start, end, _ = EventWindow(date, "22:00-01:00")
	if !end.After(start) || end.Day() != 8 {
		t.Fatalf("cross-midnight end = %v", end)
	}

	// Single time gets the default duration.
	start, end, allDay = EventWindow(date, "19:00")
	if allDay || end.Sub(start) != 3*time.Hour {
		t.Fatalf("single time window = %v - %v", start, end)
	}

	// Unparseable time falls back to all-day.
	_, _, allDay = EventWindow(date, "hele dag")
	if !allDay {
		t.Fatal("expected all-day fallback")
	}
	_, _, allDay = EventWindow(date, "")
	if !allDay {
		t.Fatal("expected all-day for empty time")
	}
}

func newTestCatalog(t *testing.T, rows ...sheet.Row) (*catalog.Manager, *sheet.MemStore) {
	t.Helper()
	store := sheet.NewMemStore()
	ctx := context.Background()
	if err := store.EnsureTable(ctx, tables.Catalog, tables.CatalogHeaders()); err != nil {
		t.Fatal(err)
	}
	if len(rows) > 0 {
		if err := store.AppendRows(ctx, tables.Catalog, rows); err != nil {
			t.Fatal(err)
		}
	}
	return catalog.NewManager(store, slog.Default()), store
}

func TestSyncClinic_CreatesAndStoresRef(t *testing.T) {
	ctx := context.Background()
	cat, _ := newTestCatalog(t,
		sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "2", "Open", "clinic-1", "", ""},
	)
	svc := NewMemService()
	syncer := NewSyncer(svc, cat, slog.Default())

	clinics, err := cat.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := syncer.SyncClinic(ctx, clinics[0]); err != nil {
		t.Fatal(err)
	}

	updated, err := cat.FindByID(ctx, "clinic-1")
	if err != nil {
		t.Fatal(err)
	}
	if updated.CalendarRef == "" {
		t.Fatal("calendar ref not written back")
	}
	ev, err := svc.EventByRef(ctx, updated.CalendarRef)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Title != "Thermoclinic op/bij Amsterdam (2 deelnemers)" {
		t.Errorf("title = %q", ev.Title)
	}
	if ev.AllDay {
		t.Error("event should carry the parsed time range")
	}
}

func TestSyncClinic_UpdatesExisting(t *testing.T) {
	ctx := context.Background()
	svc := NewMemService()
	ref, err := svc.CreateEvent(ctx, Event{Title: "stale"})
	if err != nil {
		t.Fatal(err)
	}
	cat, _ := newTestCatalog(t,
		sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "0", "Open", "clinic-1", "", ref},
	)
	syncer := NewSyncer(svc, cat, slog.Default())

	clinics, _ := cat.All(ctx)
	if err := syncer.SyncClinic(ctx, clinics[0]); err != nil {
		t.Fatal(err)
	}
	ev, err := svc.EventByRef(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Title != "Thermoclinic op/bij Amsterdam (OPTIE - nog geen deelnemers)" {
		t.Errorf("title not refreshed: %q", ev.Title)
	}
}

func TestSyncClinic_SkipsWithoutDateOrLocation(t *testing.T) {
	ctx := context.Background()
	cat, _ := newTestCatalog(t,
		sheet.Row{"", "10:00-13:00", "Amsterdam", "8", "0", "Open", "clinic-1", "", ""},
		sheet.Row{"07-12-2025", "10:00-13:00", "", "8", "0", "Open", "clinic-2", "", ""},
	)
	svc := NewMemService()
	syncer := NewSyncer(svc, cat, slog.Default())

	clinics, _ := cat.All(ctx)
	for _, c := range clinics {
		if err := syncer.SyncClinic(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range clinics {
		fresh, err := cat.FindByID(ctx, c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if fresh.CalendarRef != "" {
			t.Errorf("clinic %s should have no calendar event", c.ID)
		}
	}
}
