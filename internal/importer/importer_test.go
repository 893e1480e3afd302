package importer

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/thermoclinics/clinicsync/internal/allowlist"
	"github.com/thermoclinics/clinicsync/internal/booking"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/drive"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

const clinicName = "zondag 7 december 2025 10:00-13:00, Amsterdam"

func newImporter(t *testing.T) (*Importer, *sheet.MemStore) {
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
	row := sheet.Row{"07-12-2025", "10:00-13:00", "Amsterdam", "8", "0", "Besloten", "clinic-1", "", ""}
	if err := store.AppendRows(ctx, tables.Catalog, []sheet.Row{row}); err != nil {
		t.Fatal(err)
	}

	logger := slog.Default()
	cat := catalog.NewManager(store, logger)
	rec := booking.NewReconciler(store, cat, allowlist.New(store, logger), drive.NewMemStore(), "root", nil, nil, logger)
	im := New(store, cat, rec, logger)
	im.Now = func() time.Time { return time.Date(2025, 11, 20, 9, 0, 0, 0, time.Local) }
	return im, store
}

const csvBody = `Datum,Tijd,Locatie,Voornaam,Achternaam,Email,Telefoonnummer,Woonplaats
07-12-2025,10:00-13:00,Amsterdam,Anna,de Vries,anna@example.com,0612345678,Utrecht
07-12-2025,10:00-13:00,Amsterdam,Bob,Jansen,bob@example.com,,Zwolle
07-12-2025,10:00-13:00,Amsterdam,,,,
`

func TestRun_ImportsRows(t *testing.T) {
	im, store := newImporter(t)
	ctx := context.Background()

	sum, err := im.Run(ctx, strings.NewReader(csvBody))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Clinic != clinicName {
		t.Errorf("clinic = %q", sum.Clinic)
	}
	if sum.Added != 2 || sum.Updated != 0 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 2 added, 1 failed (empty email row)", sum)
	}

	// Besloten clinic, so rows land in the besloten table.
	headers, rows, err := store.ReadAll(ctx, tables.BeslotenResponses)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("besloten table has %d rows, want 2", len(rows))
	}
	hm := sheet.Headers(headers)
	if got := hm.Value(rows[0], tables.ColRegMethod); got != booking.SourceImport {
		t.Errorf("registration method = %q", got)
	}
	if got := hm.Value(rows[0], tables.ColSequence); got != "01" {
		t.Errorf("first import sequence = %q", got)
	}
	if got := hm.Value(rows[1], tables.ColSequence); got != "02" {
		t.Errorf("second import sequence = %q", got)
	}

	// Seat count reflects both imported participants.
	cat := catalog.NewManager(store, slog.Default())
	c, err := cat.FindByID(ctx, "clinic-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.BookedSeats != 2 {
		t.Errorf("booked seats = %d, want 2", c.BookedSeats)
	}
	if c.FolderRef == "" {
		t.Error("clinic folder not back-filled during import")
	}
}

func TestRun_ReimportPatchesInsteadOfDuplicating(t *testing.T) {
	im, store := newImporter(t)
	ctx := context.Background()

	if _, err := im.Run(ctx, strings.NewReader(csvBody)); err != nil {
		t.Fatal(err)
	}
	sum, err := im.Run(ctx, strings.NewReader(csvBody))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Added != 0 || sum.Updated != 2 {
		t.Fatalf("second run summary = %+v, want 0 added 2 updated", sum)
	}

	_, rows, _ := store.ReadAll(ctx, tables.BeslotenResponses)
	if len(rows) != 2 {
		t.Fatalf("re-import duplicated rows: %d", len(rows))
	}
	c, _ := catalog.NewManager(store, slog.Default()).FindByID(ctx, "clinic-1")
	if c.BookedSeats != 2 {
		t.Errorf("booked seats = %d after re-import, want 2", c.BookedSeats)
	}
}

func TestRun_UnknownClinicFails(t *testing.T) {
	im, _ := newImporter(t)
	body := "Datum,Tijd,Locatie,Voornaam,Achternaam,Email\n01-01-2025,09:00-10:00,Nergens,A,B,a@example.com\n"
	if _, err := im.Run(context.Background(), strings.NewReader(body)); err == nil {
		t.Fatal("expected an error for a clinic missing from the catalog")
	}
}

func TestRun_HeaderSynonyms(t *testing.T) {
	im, store := newImporter(t)
	body := "datum,tijd,locatie,voornaam,achternaam,Communications Email Address,telefoon,plaats\n" +
		"07-12-2025,10:00-13:00,Amsterdam,Carla,Smit,carla@example.com,0687654321,Breda\n"
	sum, err := im.Run(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Added != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	headers, rows, _ := store.ReadAll(context.Background(), tables.BeslotenResponses)
	hm := sheet.Headers(headers)
	if got := hm.Value(rows[0], tables.ColPhone); got != "0687654321" {
		t.Errorf("phone via synonym header = %q", got)
	}
	if got := hm.Value(rows[0], tables.ColCity); got != "Breda" {
		t.Errorf("city via synonym header = %q", got)
	}
}

func TestMapColumns_MissingRequired(t *testing.T) {
	_, err := mapColumns([]string{"datum", "tijd", "voornaam"})
	if err == nil {
		t.Fatal("expected an error for missing required columns")
	}
}
