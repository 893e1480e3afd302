package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

var ErrNotFound = errors.New("catalog: clinic not found")

// Manager reads and mutates the clinic catalog table. Seat-count increments
// are read-modify-write and not atomic; callers serialize them through the
// cooperative lock.
type Manager struct {
	store  sheet.Store
	table  string
	logger *slog.Logger
}

func NewManager(store sheet.Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, table: tables.Catalog, logger: logger}
}

// All returns every catalog row mapped to a Clinic.
func (m *Manager) All(ctx context.Context) ([]Clinic, error) {
	headers, rows, err := m.store.ReadAll(ctx, m.table)
	if err != nil {
		return nil, err
	}
	hm := sheet.Headers(headers)
	out := make([]Clinic, 0, len(rows))
	for i, row := range rows {
		out = append(out, FromRow(hm, row, i+1))
	}
	return out, nil
}

// FindByKey scans the catalog reconstructing each row's derived key and
// comparing. Linear by design: catalogs are tens to low hundreds of rows.
// An empty key never matches.
func (m *Manager) FindByKey(ctx context.Context, key string) (Clinic, error) {
	key = identity.NormalizeClinicKey(key)
	if key == "" {
		return Clinic{}, ErrNotFound
	}
	clinics, err := m.All(ctx)
	if err != nil {
		return Clinic{}, err
	}
	for _, c := range clinics {
		if c.Key() == key {
			return c, nil
		}
	}
	return Clinic{}, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// FindByID looks up a clinic by its surrogate ID.
func (m *Manager) FindByID(ctx context.Context, id string) (Clinic, error) {
	if id == "" {
		return Clinic{}, ErrNotFound
	}
	clinics, err := m.All(ctx)
	if err != nil {
		return Clinic{}, err
	}
	for _, c := range clinics {
		if c.ID == id {
			return c, nil
		}
	}
	return Clinic{}, fmt.Errorf("%w: id %s", ErrNotFound, id)
}

// IncrementBookedSeats reads the current count, adds one when countable and
// writes back. Non-counted accounts leave the count untouched and the caller
// assigns the sentinel sequence number instead.
func (m *Manager) IncrementBookedSeats(ctx context.Context, c Clinic, countable bool) (int, error) {
	if !countable {
		return c.BookedSeats, nil
	}
	fresh, err := m.FindByID(ctx, c.ID)
	if errors.Is(err, ErrNotFound) {
		fresh = c
	} else if err != nil {
		return 0, err
	}
	newCount := fresh.BookedSeats + 1
	if err := m.store.SetCell(ctx, m.table, fresh.Row, tables.ColBookedSeats, strconv.Itoa(newCount)); err != nil {
		return 0, err
	}
	return newCount, nil
}

// ListOlderThan returns clinics whose date is strictly before the cutoff.
// Rows with missing or unparseable dates are never returned: they are always
// retained, not silently dropped.
func (m *Manager) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Clinic, error) {
	clinics, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Clinic
	for _, c := range clinics {
		if c.HasDate && c.Date.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SetFolderRef stores the clinic's folder reference if not already set.
func (m *Manager) SetFolderRef(ctx context.Context, c Clinic, ref string) error {
	if c.FolderRef != "" {
		return nil
	}
	return m.store.SetCell(ctx, m.table, c.Row, tables.ColFolderID, ref)
}

// SetCalendarRef stores the clinic's calendar event reference.
func (m *Manager) SetCalendarRef(ctx context.Context, c Clinic, ref string) error {
	return m.store.SetCell(ctx, m.table, c.Row, tables.ColCalendarID, ref)
}

// Create appends a new clinic, assigning it a surrogate ID through newID.
func (m *Manager) Create(ctx context.Context, c Clinic, newID func() string) (Clinic, error) {
	headers, _, err := m.store.ReadAll(ctx, m.table)
	if err != nil {
		return Clinic{}, err
	}
	if c.ID == "" {
		c.ID = newID()
	}
	if err := m.store.AppendRows(ctx, m.table, []sheet.Row{ToRow(headers, c)}); err != nil {
		return Clinic{}, err
	}
	last, err := m.store.LastRow(ctx, m.table)
	if err != nil {
		return Clinic{}, err
	}
	c.Row = last
	return c, nil
}

// Save writes an updated clinic back to its row.
func (m *Manager) Save(ctx context.Context, c Clinic) error {
	headers, _, err := m.store.ReadAll(ctx, m.table)
	if err != nil {
		return err
	}
	return m.store.WriteRow(ctx, m.table, c.Row, ToRow(headers, c))
}

// FormOptions builds the dropdown option strings for a form type: future
// clinics of that type with seats remaining, each suffixed with the number of
// seats left.
func (m *Manager) FormOptions(ctx context.Context, typ Type, now time.Time) ([]string, error) {
	clinics, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var options []string
	for _, c := range clinics {
		if c.Type != typ || !c.HasDate || !c.Date.After(today) {
			continue
		}
		if c.Time == "" || c.Location == "" || c.MaxSeats <= 0 {
			continue
		}
		available, full := Availability(c)
		if full {
			continue
		}
		seats := fmt.Sprintf("%d plaatsen over", available)
		if available == 1 {
			seats = "1 plaats over"
		}
		options = append(options, fmt.Sprintf("%s (%s)", c.DisplayName(), seats))
	}
	return options, nil
}

// BackfillFolderRefs scans for clinics missing a folder reference and fills
// them in from existing folders matching the derived folder name.
func (m *Manager) BackfillFolderRefs(ctx context.Context, find func(ctx context.Context, name string) (string, bool)) (int, error) {
	clinics, err := m.All(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, c := range clinics {
		if c.FolderRef != "" || !c.HasDate || c.Time == "" || c.Location == "" {
			continue
		}
		ref, ok := find(ctx, c.FolderName())
		if !ok {
			m.logger.Warn("event folder not found for backfill", "folder", c.FolderName())
			continue
		}
		if err := m.store.SetCell(ctx, m.table, c.Row, tables.ColFolderID, ref); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
