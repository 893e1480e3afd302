// Package catalog owns the canonical list of clinics and the seat-count
// arithmetic. Clinics are identified two ways: a surrogate Clinic ID assigned
// at creation, and the derived display name reconstructed from date, time and
// location. Participant rows still join on the display name, so the surrogate
// is authoritative only within the catalog itself.
package catalog

import (
	"strconv"
	"strings"
	"time"

	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

type Type string

const (
	TypeOpen     Type = "open"
	TypeBesloten Type = "besloten"
)

// ParseType normalizes a raw type cell. Unknown values map to the empty Type;
// callers fall back to default behavior rather than failing.
func ParseType(raw string) Type {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open":
		return TypeOpen
	case "besloten":
		return TypeBesloten
	default:
		return ""
	}
}

// Clinic is one catalog row.
type Clinic struct {
	ID          string
	Date        time.Time
	HasDate     bool
	RawDate     string // original cell, kept for rows with unparseable dates
	Time        string // free-text range, e.g. "10:00-13:00"
	Location    string
	MaxSeats    int
	BookedSeats int
	Type        Type
	FolderRef   string
	CalendarRef string
	Row         int // position in the catalog table, 1-based
}

// DisplayName reconstructs the event-name string used everywhere the clinic
// is referenced outside the catalog: "zaterdag 7 december 2025 10:00-13:00,
// Amsterdam".
func (c Clinic) DisplayName() string {
	date := identity.DutchDateString(c.Date)
	if !c.HasDate {
		date = strings.TrimSpace(c.RawDate)
	}
	return date + " " + strings.TrimSpace(c.Time) + ", " + strings.TrimSpace(c.Location)
}

// Key is the normalized join key derived from the display name.
func (c Clinic) Key() string {
	return identity.NormalizeClinicKey(c.DisplayName())
}

// FolderName is the Drive-style folder name for the clinic:
// "20251207 1000-1300 Amsterdam".
func (c Clinic) FolderName() string {
	t := strings.NewReplacer(":", "", ".", "").Replace(strings.TrimSpace(c.Time))
	return c.Date.Format("20060102") + " " + t + " " + strings.TrimSpace(c.Location)
}

// Availability returns the remaining seats and whether the clinic is full.
func Availability(c Clinic) (available int, full bool) {
	available = c.MaxSeats - c.BookedSeats
	if available < 0 {
		available = 0
	}
	return available, available == 0
}

// DateFormats accepted in the Datum cell, tried in order.
var dateFormats = []string{"02-01-2006", "2006-01-02", "2-1-2006"}

// ParseCellDate parses a catalog date cell.
func ParseCellDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatCellDate renders a date back into the Datum cell format.
func FormatCellDate(t time.Time) string {
	return t.Format("02-01-2006")
}

// FromRow maps a catalog row to a Clinic. The first six columns are at fixed
// positions; the rest is resolved by header.
func FromRow(hm sheet.HeaderMap, row sheet.Row, pos int) Clinic {
	c := Clinic{Row: pos}
	c.RawDate = cellAt(row, tables.CatalogDatePos)
	c.Time = cellAt(row, tables.CatalogTimePos)
	c.Location = cellAt(row, tables.CatalogLocationPos)
	c.MaxSeats = atoi(cellAt(row, tables.CatalogMaxPos))
	c.BookedSeats = atoi(cellAt(row, tables.CatalogBookedPos))
	c.Type = ParseType(cellAt(row, tables.CatalogTypePos))
	if d, ok := ParseCellDate(c.RawDate); ok {
		c.Date = d
		c.HasDate = true
	}
	c.ID = strings.TrimSpace(hm.Value(row, tables.ColClinicID))
	c.FolderRef = strings.TrimSpace(hm.Value(row, tables.ColFolderID))
	c.CalendarRef = strings.TrimSpace(hm.Value(row, tables.ColCalendarID))
	return c
}

// ToRow maps a Clinic back to a catalog row under the given headers.
func ToRow(headers []string, c Clinic) sheet.Row {
	row := make(sheet.Row, len(headers))
	set := func(pos int, v string) {
		if pos-1 < len(row) {
			row[pos-1] = v
		}
	}
	date := strings.TrimSpace(c.RawDate)
	if c.HasDate {
		date = FormatCellDate(c.Date)
	}
	set(tables.CatalogDatePos, date)
	set(tables.CatalogTimePos, strings.TrimSpace(c.Time))
	set(tables.CatalogLocationPos, strings.TrimSpace(c.Location))
	set(tables.CatalogMaxPos, strconv.Itoa(c.MaxSeats))
	set(tables.CatalogBookedPos, strconv.Itoa(c.BookedSeats))
	set(tables.CatalogTypePos, string(c.Type))

	hm := sheet.Headers(headers)
	hm.Set(&row, tables.ColClinicID, c.ID)
	hm.Set(&row, tables.ColFolderID, c.FolderRef)
	hm.Set(&row, tables.ColCalendarID, c.CalendarRef)
	return row
}

func cellAt(row sheet.Row, pos int) string {
	if pos-1 >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos-1])
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
