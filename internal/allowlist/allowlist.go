// Package allowlist knows the non-participant accounts: test and host emails
// that register for clinics but never count toward booked seats.
package allowlist

import (
	"context"
	"log/slog"

	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

// SequenceSentinel is assigned instead of a sequence number to non-counted
// accounts.
const SequenceSentinel = "xx"

type List struct {
	store  sheet.Store
	table  string
	logger *slog.Logger
}

func New(store sheet.Store, logger *slog.Logger) *List {
	return &List{store: store, table: tables.NonParticipantMails, logger: logger}
}

// Contains reports whether the email is on the non-participant allowlist.
// A missing allowlist table is treated as empty, never as an error.
func (l *List) Contains(ctx context.Context, email string) bool {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return false
	}
	headers, rows, err := l.store.ReadAll(ctx, l.table)
	if err != nil {
		l.logger.Debug("allowlist unavailable, treating as empty", "err", err)
		return false
	}
	hm := sheet.Headers(headers)
	for _, row := range rows {
		if identity.NormalizeEmail(hm.Value(row, tables.ColAllowedEmail)) == email {
			return true
		}
	}
	return false
}
