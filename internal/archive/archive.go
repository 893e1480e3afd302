// Package archive retires old clinics and their participants. Active data is
// never destroyed before a verified copy exists in an archive table: clinic
// moves are append-then-rewrite, participant moves are append, read back and
// only then flag.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

// RetentionDays is how long a clinic stays active after its date.
const RetentionDays = 30

var responseTables = []string{tables.OpenResponses, tables.BeslotenResponses}

// Engine runs the archival passes. Now is replaceable for tests.
type Engine struct {
	store   sheet.Store
	catalog *catalog.Manager
	logger  *slog.Logger
	Now     func() time.Time
}

func NewEngine(store sheet.Store, cat *catalog.Manager, logger *slog.Logger) *Engine {
	return &Engine{store: store, catalog: cat, logger: logger, Now: time.Now}
}

// Report counts what a pass did.
type Report struct {
	ClinicsArchived      int
	ParticipantsArchived int
	RowsFlagged          int
	RowsDeleted          int
}

// Cutoff is the archival threshold. Clinics dated strictly before it are
// archived, so it sits at the start of the day RetentionDays-1 ago: a clinic
// dated exactly RetentionDays ago falls before it and is archived.
func (e *Engine) Cutoff() time.Time {
	now := e.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return day.AddDate(0, 0, -(RetentionDays - 1))
}

// ArchiveOldClinics moves clinics older than the cutoff to the clinic
// archive and their participants to the participant archive. Rows without a
// parseable date are always kept. Participant source rows are flagged only
// after the archive write has been verified by read-back.
func (e *Engine) ArchiveOldClinics(ctx context.Context) (Report, error) {
	var rep Report
	cutoff := e.Cutoff()

	headers, rows, err := e.store.ReadAll(ctx, tables.Catalog)
	if err != nil {
		return rep, err
	}
	hm := sheet.Headers(headers)

	var keep, toArchive []sheet.Row
	archivedNames := make(map[string]bool)
	for i, row := range rows {
		c := catalog.FromRow(hm, row, i+1)
		if !c.HasDate {
			if strings.TrimSpace(c.RawDate) != "" {
				e.logger.Warn("clinic with unparseable date kept active", "date", c.RawDate, "row", i+1)
			}
			keep = append(keep, row)
			continue
		}
		if c.Date.Before(cutoff) {
			toArchive = append(toArchive, row)
			archivedNames[c.Key()] = true
			e.logger.Info("clinic marked for archive", "clinic", c.DisplayName())
		} else {
			keep = append(keep, row)
		}
	}
	if len(toArchive) == 0 {
		e.logger.Info("no clinics older than the retention window")
		return rep, nil
	}

	if err := e.store.EnsureTable(ctx, tables.CatalogArchive, headers); err != nil {
		return rep, err
	}
	if err := e.store.AppendRows(ctx, tables.CatalogArchive, toArchive); err != nil {
		return rep, fmt.Errorf("append to clinic archive: %w", err)
	}
	if err := e.store.ClearAndRewrite(ctx, tables.Catalog, keep); err != nil {
		return rep, fmt.Errorf("rewrite catalog: %w", err)
	}
	rep.ClinicsArchived = len(toArchive)
	e.logger.Info("clinics archived", "count", len(toArchive), "kept", len(keep))

	for _, table := range responseTables {
		archived, flagged, err := e.archiveParticipants(ctx, table, func(key, _ string) bool {
			return archivedNames[key]
		}, nil)
		if err != nil {
			return rep, err
		}
		rep.ParticipantsArchived += archived
		rep.RowsFlagged += flagged
	}
	return rep, nil
}

// SweepFlagged re-archives flagged rows missing from the participant archive
// and, only when deleteArchived is set, deletes flagged rows whose archived
// copy is confirmed. Without confirmation nothing is ever deleted.
func (e *Engine) SweepFlagged(ctx context.Context, deleteArchived bool) (Report, error) {
	var rep Report
	already, err := e.archivedParticipants(ctx)
	if err != nil {
		return rep, err
	}

	for _, table := range responseTables {
		headers, rows, err := e.store.ReadAll(ctx, table)
		if err != nil {
			if errors.Is(err, sheet.ErrTableNotFound) {
				continue
			}
			return rep, err
		}
		hm := sheet.Headers(headers)

		var toArchive []sheet.Row
		var toDelete []int
		for i, row := range rows {
			if strings.TrimSpace(hm.Value(row, tables.ColArchived)) != tables.ArchivedMark {
				continue
			}
			key := participantKey(hm, row)
			if key == "" {
				continue
			}
			if already[key] {
				if deleteArchived {
					toDelete = append(toDelete, i+1)
				}
				continue
			}
			toArchive = append(toArchive, archiveRow(headers, row, table))
			already[key] = true
		}

		if len(toArchive) > 0 {
			if err := e.ensureParticipantArchive(ctx, headers); err != nil {
				return rep, err
			}
			if err := e.store.AppendRows(ctx, tables.ParticipantArchive, toArchive); err != nil {
				return rep, fmt.Errorf("append flagged rows to participant archive: %w", err)
			}
			rep.ParticipantsArchived += len(toArchive)
			e.logger.Info("flagged rows re-archived", "table", table, "count", len(toArchive))
		}

		// Bottom-up so positions stay valid.
		for i := len(toDelete) - 1; i >= 0; i-- {
			if err := e.store.DeleteRow(ctx, table, toDelete[i]); err != nil {
				return rep, fmt.Errorf("delete archived row %d from %s: %w", toDelete[i], table, err)
			}
			rep.RowsDeleted++
		}
		if len(toDelete) > 0 {
			e.logger.Info("archived rows deleted from source", "table", table, "count", len(toDelete))
		}
	}
	return rep, nil
}

// FixMissed retroactively archives participants whose clinic is already in
// the clinic archive, or whose event name parses to a date past the cutoff,
// and flags source rows the earlier passes missed.
func (e *Engine) FixMissed(ctx context.Context) (Report, error) {
	var rep Report
	cutoff := e.Cutoff()

	archivedClinics := make(map[string]bool)
	if headers, rows, err := e.store.ReadAll(ctx, tables.CatalogArchive); err == nil {
		hm := sheet.Headers(headers)
		for i, row := range rows {
			c := catalog.FromRow(hm, row, i+1)
			if c.HasDate {
				archivedClinics[c.Key()] = true
			}
		}
	} else if !errors.Is(err, sheet.ErrTableNotFound) {
		return rep, err
	}

	already, err := e.archivedParticipants(ctx)
	if err != nil {
		return rep, err
	}

	for _, table := range responseTables {
		archived, flagged, err := e.archiveParticipants(ctx, table, func(key, eventBase string) bool {
			if archivedClinics[key] {
				return true
			}
			date, ok := identity.ParseDutchClinicDate(eventBase)
			return ok && date.Before(cutoff)
		}, already)
		if err != nil {
			return rep, err
		}
		rep.ParticipantsArchived += archived
		rep.RowsFlagged += flagged
	}
	return rep, nil
}

// archiveParticipants copies matching rows of one response table into the
// participant archive and flags them. match receives the row's normalized
// event key and its stripped raw event name. Verification failure skips
// flagging for the whole table; the active copies stay authoritative.
// already (optional) suppresses rows whose participant key is in the
// archive; those rows are still flagged.
func (e *Engine) archiveParticipants(ctx context.Context, table string, match func(key, eventBase string) bool, already map[string]bool) (archived, flagged int, err error) {
	headers, rows, err := e.store.ReadAll(ctx, table)
	if err != nil {
		if errors.Is(err, sheet.ErrTableNotFound) {
			e.logger.Warn("response table missing, skipped", "table", table)
			return 0, 0, nil
		}
		return 0, 0, err
	}
	hm := sheet.Headers(headers)
	if _, ok := hm.Col(tables.ColClinic); !ok {
		e.logger.Warn("response table lacks the event column, skipped", "table", table)
		return 0, 0, nil
	}

	var toArchive []sheet.Row
	var toFlag []int
	for i, row := range rows {
		base, _ := identity.StripSeatSuffix(hm.Value(row, tables.ColClinic))
		key := identity.NormalizeClinicKey(base)
		if key == "" || !match(key, base) {
			continue
		}
		if strings.TrimSpace(hm.Value(row, tables.ColArchived)) != tables.ArchivedMark {
			toFlag = append(toFlag, i+1)
		}
		if already != nil && already[participantKey(hm, row)] {
			continue
		}
		toArchive = append(toArchive, archiveRow(headers, row, table))
		if already != nil {
			already[participantKey(hm, row)] = true
		}
		e.logger.Info("participant marked for archive",
			"email", hm.Value(row, tables.ColEmail), "clinic", base, "table", table)
	}
	if len(toArchive) == 0 && len(toFlag) == 0 {
		return 0, 0, nil
	}

	if len(toArchive) > 0 {
		if err := e.ensureParticipantArchive(ctx, headers); err != nil {
			return 0, 0, err
		}
		before, err := e.store.LastRow(ctx, tables.ParticipantArchive)
		if err != nil {
			return 0, 0, err
		}
		if err := e.store.AppendRows(ctx, tables.ParticipantArchive, toArchive); err != nil {
			return 0, 0, fmt.Errorf("append to participant archive: %w", err)
		}
		if !e.verifyArchiveWrite(ctx, before, toArchive) {
			e.logger.Error("participant archive write not verified, source rows stay unflagged",
				"table", table, "count", len(toArchive))
			return 0, 0, nil
		}
		archived = len(toArchive)
	}

	for _, pos := range toFlag {
		if err := e.store.SetCell(ctx, table, pos, tables.ColArchived, tables.ArchivedMark); err != nil {
			return archived, flagged, fmt.Errorf("flag row %d in %s: %w", pos, table, err)
		}
		flagged++
	}
	if archived > 0 || flagged > 0 {
		e.logger.Info("participants archived and flagged",
			"table", table, "archived", archived, "flagged", flagged)
	}
	return archived, flagged, nil
}

// verifyArchiveWrite reads the participant archive back: the last-row
// pointer must have advanced by the full batch and the first written row
// must carry the expected email.
func (e *Engine) verifyArchiveWrite(ctx context.Context, before int, written []sheet.Row) bool {
	after, err := e.store.LastRow(ctx, tables.ParticipantArchive)
	if err != nil || after < before+len(written) {
		e.logger.Error("archive last-row verification failed",
			"expected", before+len(written), "got", after, "err", err)
		return false
	}
	headers, rows, err := e.store.ReadAll(ctx, tables.ParticipantArchive)
	if err != nil || before >= len(rows) {
		return false
	}
	hm := sheet.Headers(headers)
	wantHM := sheet.Headers(tables.ParticipantArchiveHeaders())
	want := identity.NormalizeEmail(wantHM.Value(written[0], tables.ColEmail))
	got := identity.NormalizeEmail(hm.Value(rows[before], tables.ColEmail))
	if want != got {
		e.logger.Error("archive spot check failed", "want", want, "got", got)
		return false
	}
	return true
}

func (e *Engine) ensureParticipantArchive(ctx context.Context, responseHeaders []string) error {
	headers := append(append([]string{}, responseHeaders...), tables.ColSourceTable)
	return e.store.EnsureTable(ctx, tables.ParticipantArchive, headers)
}

// archivedParticipants builds the set of participant keys already present in
// the archive. A missing archive table means the set is empty.
func (e *Engine) archivedParticipants(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	headers, rows, err := e.store.ReadAll(ctx, tables.ParticipantArchive)
	if err != nil {
		if errors.Is(err, sheet.ErrTableNotFound) {
			return out, nil
		}
		return nil, err
	}
	hm := sheet.Headers(headers)
	for _, row := range rows {
		if key := participantKey(hm, row); key != "" {
			out[key] = true
		}
	}
	return out, nil
}

func participantKey(hm sheet.HeaderMap, row sheet.Row) string {
	email := identity.NormalizeEmail(hm.Value(row, tables.ColEmail))
	base, _ := identity.StripSeatSuffix(hm.Value(row, tables.ColClinic))
	event := identity.NormalizeClinicKey(base)
	if email == "" || event == "" {
		return ""
	}
	return identity.CompositeKey(email, event)
}

func archiveRow(headers []string, row sheet.Row, sourceTable string) sheet.Row {
	out := make(sheet.Row, len(headers)+1)
	copy(out, row)
	out[len(out)-1] = sourceTable
	return out
}
