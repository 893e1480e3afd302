// Package cascade propagates clinic catalog edits to everything derived
// from the display name: participant rows, the event folder and the
// calendar entry.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thermoclinics/clinicsync/internal/calendar"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/drive"
	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

// ErrHeaderMismatch aborts a type-change move when the two response tables
// no longer share the same header structure.
var ErrHeaderMismatch = errors.New("cascade: response table headers differ, move aborted")

// Propagator applies the ripple effects of a clinic edit. Drive and
// calendar are optional; nil skips those effects.
type Propagator struct {
	store    sheet.Store
	catalog  *catalog.Manager
	drive    drive.Store
	calendar *calendar.Syncer
	logger   *slog.Logger
}

func NewPropagator(store sheet.Store, cat *catalog.Manager, dr drive.Store, cal *calendar.Syncer, logger *slog.Logger) *Propagator {
	return &Propagator{store: store, catalog: cat, drive: dr, calendar: cal, logger: logger}
}

// ClinicEdited reconciles the world with a catalog edit. before is the
// clinic as it was, after as it now stands (same ID). Display-name changes
// rewrite participant rows in both active tables; a type change moves them
// between tables; the folder rename is best-effort and the calendar entry
// is resynced last.
func (p *Propagator) ClinicEdited(ctx context.Context, before, after catalog.Clinic) error {
	oldName := before.DisplayName()
	newName := after.DisplayName()

	if oldName != newName {
		for _, table := range []string{tables.OpenResponses, tables.BeslotenResponses} {
			n, err := p.renameInTable(ctx, table, oldName, newName)
			if err != nil {
				return err
			}
			if n > 0 {
				p.logger.Info("participant rows renamed", "table", table, "count", n,
					"from", oldName, "to", newName)
			}
		}
		p.renameEventFolder(ctx, after)
	}

	if before.Type != after.Type && after.Type != "" {
		if err := p.moveParticipants(ctx, before, after, newName); err != nil {
			return err
		}
	}

	if p.calendar != nil {
		if err := p.calendar.SyncClinic(ctx, after); err != nil {
			p.logger.Error("calendar resync after edit failed", "clinic", newName, "error", err)
		}
	}
	return nil
}

// renameInTable rewrites the event-name cell of every matching participant
// row, keeping any seat suffix verbatim. The whole data range is rewritten
// in one write when anything matched.
func (p *Propagator) renameInTable(ctx context.Context, table, oldName, newName string) (int, error) {
	headers, rows, err := p.store.ReadAll(ctx, table)
	if err != nil {
		if errors.Is(err, sheet.ErrTableNotFound) {
			return 0, nil
		}
		return 0, err
	}
	hm := sheet.Headers(headers)
	if _, ok := hm.Col(tables.ColClinic); !ok {
		return 0, nil
	}

	oldKey := identity.NormalizeClinicKey(oldName)
	updated := 0
	out := make([]sheet.Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
		base, suffix := identity.StripSeatSuffix(hm.Value(row, tables.ColClinic))
		if identity.NormalizeClinicKey(base) == oldKey && oldKey != "" {
			hm.Set(&out[i], tables.ColClinic, newName+suffix)
			updated++
		}
	}
	if updated == 0 {
		return 0, nil
	}
	if err := p.store.WriteRange(ctx, table, 1, out); err != nil {
		return 0, fmt.Errorf("rewrite %s: %w", table, err)
	}
	return updated, nil
}

func (p *Propagator) renameEventFolder(ctx context.Context, c catalog.Clinic) {
	if p.drive == nil || c.FolderRef == "" || !c.HasDate {
		return
	}
	name := c.FolderName()
	if err := p.drive.RenameFolder(ctx, c.FolderRef, name); err != nil {
		p.logger.Warn("event folder rename failed", "folder", c.FolderRef, "name", name, "error", err)
		return
	}
	p.logger.Info("event folder renamed", "folder", c.FolderRef, "name", name)
}

// moveParticipants carries the clinic's rows from the old type's table to
// the new one: copy to the target, verify the copies landed, then delete
// from the source. A header mismatch between the tables aborts before any
// row is written.
func (p *Propagator) moveParticipants(ctx context.Context, before, after catalog.Clinic, name string) error {
	source := responseTable(before.Type)
	target := responseTable(after.Type)
	if source == "" || target == "" || source == target {
		return nil
	}

	srcHeaders, srcRows, err := p.store.ReadAll(ctx, source)
	if err != nil {
		return err
	}
	tgtHeaders, _, err := p.store.ReadAll(ctx, target)
	if err != nil {
		return err
	}
	if !sheet.SameHeaders(srcHeaders, tgtHeaders) {
		p.logger.Warn("response tables are structurally different, zero rows moved",
			"source", source, "target", target)
		return ErrHeaderMismatch
	}

	hm := sheet.Headers(srcHeaders)
	key := identity.NormalizeClinicKey(name)
	var moving []sheet.Row
	var positions []int
	for i, row := range srcRows {
		base, _ := identity.StripSeatSuffix(hm.Value(row, tables.ColClinic))
		if identity.NormalizeClinicKey(base) == key && key != "" {
			moving = append(moving, row.Clone())
			positions = append(positions, i+1)
		}
	}
	if len(moving) == 0 {
		return nil
	}

	beforeLast, err := p.store.LastRow(ctx, target)
	if err != nil {
		return err
	}
	if err := p.store.AppendRows(ctx, target, moving); err != nil {
		return fmt.Errorf("copy %d rows to %s: %w", len(moving), target, err)
	}

	afterLast, err := p.store.LastRow(ctx, target)
	if err != nil {
		return err
	}
	if afterLast != beforeLast+len(moving) {
		p.logger.Error("copy verification failed, source rows retained",
			"target", target, "expected", beforeLast+len(moving), "got", afterLast)
		return fmt.Errorf("cascade: copy to %s not verified, source rows kept", target)
	}

	// Delete bottom-up so earlier positions stay valid.
	for i := len(positions) - 1; i >= 0; i-- {
		if err := p.store.DeleteRow(ctx, source, positions[i]); err != nil {
			return fmt.Errorf("delete moved row %d from %s: %w", positions[i], source, err)
		}
	}
	p.logger.Info("participants moved between response tables",
		"count", len(moving), "from", source, "to", target)
	return nil
}

func responseTable(typ catalog.Type) string {
	switch typ {
	case catalog.TypeOpen:
		return tables.OpenResponses
	case catalog.TypeBesloten:
		return tables.BeslotenResponses
	}
	return ""
}
