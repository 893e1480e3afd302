// Package booking reconciles incoming form submissions against the clinic
// catalog and the response tables: seat counts, duplicate detection,
// participant folders, calendar sync and confirmation mail.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

// Submission source values. SourceImport rows never trigger confirmation
// mail; merged duplicates get SourceBoth.
const (
	SourceForm   = "Form"
	SourceImport = "Excel Import"
	SourceBoth   = "Excel Import + Form"
)

// Submission is one booking as it lands in a response table. EventChoice is
// the raw dropdown option and may still carry the seat-remaining suffix.
// Table and Row point at the already-appended landed row; Row is 0 when the
// submission has not been written yet (CSV import patches go direct).
type Submission struct {
	EventChoice string
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	DOB         string
	City        string
	Comments    string
	Motivation  string
	Source      string
	ReceivedAt  time.Time
	Table       string
	Row         int
}

// EventName returns the dropdown choice with any seat suffix stripped.
func (s Submission) EventName() string {
	base, _ := identity.StripSeatSuffix(s.EventChoice)
	return base
}

// Key is the participant identity key: normalized email plus normalized
// event name. Empty when either half is missing.
func (s Submission) Key() string {
	email := identity.NormalizeEmail(s.Email)
	event := identity.NormalizeClinicKey(s.EventName())
	if email == "" || event == "" {
		return ""
	}
	return identity.CompositeKey(email, event)
}

// TimestampLayout is the cell format for response-table timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// LandedRow builds the response-table row for a submission, shaped by the
// table's headers.
func LandedRow(headers []string, sub Submission) sheet.Row {
	hm := sheet.Headers(headers)
	row := make(sheet.Row, len(headers))
	hm.Set(&row, tables.ColTimestamp, sub.ReceivedAt.Format(TimestampLayout))
	hm.Set(&row, tables.ColEmail, strings.TrimSpace(sub.Email))
	hm.Set(&row, tables.ColFirstName, strings.TrimSpace(sub.FirstName))
	hm.Set(&row, tables.ColLastName, strings.TrimSpace(sub.LastName))
	hm.Set(&row, tables.ColClinic, strings.TrimSpace(sub.EventChoice))
	hm.Set(&row, tables.ColPhone, strings.TrimSpace(sub.Phone))
	hm.Set(&row, tables.ColDOB, strings.TrimSpace(sub.DOB))
	hm.Set(&row, tables.ColCity, strings.TrimSpace(sub.City))
	hm.Set(&row, tables.ColComments, strings.TrimSpace(sub.Comments))
	hm.Set(&row, tables.ColMotivation, strings.TrimSpace(sub.Motivation))
	hm.Set(&row, tables.ColRegMethod, sub.Source)
	return row
}

// DedupIndex maps participant identity keys to 1-based row positions in the
// given response table. Only the first occurrence of a key is recorded.
// excludePos skips the just-landed row so a submission never matches itself.
func DedupIndex(ctx context.Context, store sheet.Store, table string, excludePos int) (map[string]int, error) {
	headers, rows, err := store.ReadAll(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	hm := sheet.Headers(headers)
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		pos := i + 1
		if pos == excludePos {
			continue
		}
		email := identity.NormalizeEmail(hm.Value(row, tables.ColEmail))
		event, _ := identity.StripSeatSuffix(hm.Value(row, tables.ColClinic))
		event = identity.NormalizeClinicKey(event)
		if email == "" || event == "" {
			continue
		}
		key := identity.CompositeKey(email, event)
		if _, seen := index[key]; !seen {
			index[key] = pos
		}
	}
	return index, nil
}
