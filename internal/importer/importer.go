// Package importer loads participant lists from CSV exports into the
// response tables. Imports flow through the same reconciliation path as
// form submissions, so duplicates patch-merge instead of double-booking,
// but no confirmation mail goes out.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/thermoclinics/clinicsync/internal/booking"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

// columnSynonyms maps logical fields to the header spellings seen in the
// exported files.
var columnSynonyms = map[string][]string{
	"date":      {"datum"},
	"time":      {"tijd"},
	"location":  {"locatie"},
	"firstName": {"voornaam"},
	"lastName":  {"achternaam"},
	"email":     {"email", "communications email address"},
	"phone":     {"telefoonnummer", "telefonnummer", "telefoon"},
	"dob":       {"geboortedatum", "geboorte datum"},
	"city":      {"woonplaats", "plaats"},
}

var requiredColumns = []string{"date", "time", "location", "firstName", "lastName", "email"}

// Summary reports an import run. Errors holds per-row messages for rows
// that were skipped.
type Summary struct {
	Clinic  string
	Added   int
	Updated int
	Failed  int
	Errors  []string
}

// Importer parses CSV exports and books every row.
type Importer struct {
	store  sheet.Store
	cat    *catalog.Manager
	rec    *booking.Reconciler
	logger *slog.Logger
	Now    func() time.Time
}

func New(store sheet.Store, cat *catalog.Manager, rec *booking.Reconciler, logger *slog.Logger) *Importer {
	return &Importer{store: store, cat: cat, rec: rec, logger: logger, Now: time.Now}
}

// Run imports one CSV stream. The clinic is identified from the date, time
// and location of the first data row and must already exist in the catalog;
// every row is then reconciled as a submission with source "Excel Import".
func (im *Importer) Run(ctx context.Context, r io.Reader) (Summary, error) {
	var sum Summary

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return sum, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return sum, errors.New("importer: file is empty or has only a header row")
	}

	cols, err := mapColumns(records[0])
	if err != nil {
		return sum, err
	}
	rows := records[1:]

	clinic, err := im.resolveClinic(ctx, cols, rows[0])
	if err != nil {
		return sum, err
	}
	sum.Clinic = clinic.DisplayName()
	im.logger.Info("csv import started", "clinic", sum.Clinic, "rows", len(rows))

	target := booking.TargetTable(clinic.Type, tables.OpenResponses)
	headers, _, err := im.store.ReadAll(ctx, target)
	if err != nil {
		return sum, err
	}
	for i, rec := range rows {
		rowNum := i + 2
		email := cols.value(rec, "email")
		if email == "" {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("rij %d: overgeslagen, geen e-mailadres", rowNum))
			continue
		}

		sub := booking.Submission{
			EventChoice: sum.Clinic,
			Email:       email,
			FirstName:   cols.value(rec, "firstName"),
			LastName:    cols.value(rec, "lastName"),
			Phone:       cols.value(rec, "phone"),
			DOB:         normalizeDOB(cols.value(rec, "dob")),
			City:        cols.value(rec, "city"),
			Source:      booking.SourceImport,
			ReceivedAt:  im.Now(),
			Table:       target,
		}

		if err := im.store.AppendRows(ctx, target, []sheet.Row{booking.LandedRow(headers, sub)}); err != nil {
			return sum, fmt.Errorf("append import row %d: %w", rowNum, err)
		}
		pos, err := im.store.LastRow(ctx, target)
		if err != nil {
			return sum, err
		}
		sub.Row = pos

		res, err := im.rec.Process(ctx, sub)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("rij %d (%s): %v", rowNum, email, err))
			im.logger.Warn("import row failed", "row", rowNum, "email", email, "error", err)
			continue
		}
		if res.Duplicate {
			sum.Updated++
		} else {
			sum.Added++
		}
	}

	im.logger.Info("csv import finished",
		"clinic", sum.Clinic, "added", sum.Added, "updated", sum.Updated, "failed", sum.Failed)
	return sum, nil
}

// resolveClinic derives the clinic display name from the first data row and
// looks it up in the catalog.
func (im *Importer) resolveClinic(ctx context.Context, cols columnMap, first []string) (catalog.Clinic, error) {
	rawDate := cols.value(first, "date")
	timeCell := cols.value(first, "time")
	location := cols.value(first, "location")
	if rawDate == "" || timeCell == "" || location == "" {
		return catalog.Clinic{}, errors.New("importer: first data row lacks date, time or location")
	}
	date, ok := catalog.ParseCellDate(rawDate)
	if !ok {
		return catalog.Clinic{}, fmt.Errorf("importer: unparseable date %q in first data row", rawDate)
	}
	name := identity.DutchDateString(date) + " " + timeCell + ", " + location
	clinic, err := im.cat.FindByKey(ctx, name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Clinic{}, fmt.Errorf("importer: clinic %q not found in the catalog", name)
		}
		return catalog.Clinic{}, err
	}
	return clinic, nil
}

// columnMap maps logical fields to 0-based CSV column indexes; -1 when the
// column is absent.
type columnMap map[string]int

func mapColumns(header []string) (columnMap, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			if _, dup := byName[h]; !dup {
				byName[h] = i
			}
		}
	}

	cols := make(columnMap, len(columnSynonyms))
	for key, names := range columnSynonyms {
		cols[key] = -1
		for _, name := range names {
			if idx, ok := byName[name]; ok {
				cols[key] = idx
				break
			}
		}
	}

	var missing []string
	for _, key := range requiredColumns {
		if cols[key] == -1 {
			missing = append(missing, strings.Join(columnSynonyms[key], " of "))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("importer: required columns missing: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c columnMap) value(rec []string, key string) string {
	idx := c[key]
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

// normalizeDOB reformats parseable birth dates to dd-mm-yyyy and passes
// anything else through untouched.
func normalizeDOB(raw string) string {
	if raw == "" {
		return ""
	}
	if d, ok := catalog.ParseCellDate(raw); ok {
		return catalog.FormatCellDate(d)
	}
	return raw
}
