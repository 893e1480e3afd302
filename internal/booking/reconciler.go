package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/thermoclinics/clinicsync/internal/allowlist"
	"github.com/thermoclinics/clinicsync/internal/calendar"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/drive"
	"github.com/thermoclinics/clinicsync/internal/lock"
	"github.com/thermoclinics/clinicsync/internal/mail"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
)

var ErrClinicNotFound = errors.New("booking: clinic not found for submission")

// Result reports what Process did with a submission.
type Result struct {
	Clinic    catalog.Clinic
	Duplicate bool
	Sequence  string
	FolderRef string
}

// Reconciler drives a submission through resolution, dedup, seat counting,
// folder assignment, calendar sync and confirmation mail. The mailer and
// calendar syncer are optional; a nil value skips that stage.
type Reconciler struct {
	store       sheet.Store
	catalog     *catalog.Manager
	allow       *allowlist.List
	drive       drive.Store
	driveParent string
	calendar    *calendar.Syncer
	mailer      *mail.Mailer
	locks       *lock.KeyedMutex
	logger      *slog.Logger
}

func NewReconciler(
	store sheet.Store,
	cat *catalog.Manager,
	allow *allowlist.List,
	dr drive.Store,
	driveParent string,
	cal *calendar.Syncer,
	mailer *mail.Mailer,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:       store,
		catalog:     cat,
		allow:       allow,
		drive:       dr,
		driveParent: driveParent,
		calendar:    cal,
		mailer:      mailer,
		locks:       lock.NewKeyedMutex(),
		logger:      logger,
	}
}

// TargetTable maps a clinic type to its response table. Unknown types fall
// back to the table the submission landed in.
func TargetTable(typ catalog.Type, landed string) string {
	switch typ {
	case catalog.TypeOpen:
		return tables.OpenResponses
	case catalog.TypeBesloten:
		return tables.BeslotenResponses
	}
	return landed
}

// Process reconciles one submission. The catalog mutation window is
// serialized in-process; callers spreading over instances add the redis
// mutex around Process.
func (r *Reconciler) Process(ctx context.Context, sub Submission) (Result, error) {
	eventName := sub.EventName()
	if eventName == "" {
		return Result{}, fmt.Errorf("booking: submission without event choice from %q", sub.Email)
	}

	unlock := r.locks.Lock("catalog")
	defer unlock()

	clinic, err := r.catalog.FindByKey(ctx, eventName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %q", ErrClinicNotFound, eventName)
		}
		return Result{}, err
	}

	target := TargetTable(clinic.Type, sub.Table)
	exclude := 0
	if sub.Table == target {
		exclude = sub.Row
	}
	index, err := DedupIndex(ctx, r.store, target, exclude)
	if err != nil {
		return Result{}, err
	}

	res := Result{Clinic: clinic}
	if pos, dup := index[sub.Key()]; dup && sub.Key() != "" {
		res.Duplicate = true
		res.Sequence, res.FolderRef, err = r.patchExisting(ctx, target, pos, sub)
		if err != nil {
			return res, err
		}
		// The landed row duplicates the patched one and is removed.
		if sub.Row > 0 {
			if err := r.store.DeleteRow(ctx, sub.Table, sub.Row); err != nil {
				return res, fmt.Errorf("delete duplicate landed row %d in %s: %w", sub.Row, sub.Table, err)
			}
			r.logger.Info("duplicate landed row deleted", "table", sub.Table, "row", sub.Row)
		}
	} else {
		res.Sequence, res.FolderRef, err = r.admitNew(ctx, &clinic, sub)
		if err != nil {
			return res, err
		}
		res.Clinic = clinic
		if sub.Row > 0 {
			if err := r.stampLandedRow(ctx, sub, res.Sequence, res.FolderRef); err != nil {
				return res, err
			}
		}
	}

	if r.calendar != nil {
		if err := r.calendar.SyncClinic(ctx, res.Clinic); err != nil {
			r.logger.Error("calendar sync after booking failed", "clinic", res.Clinic.DisplayName(), "error", err)
		}
	}

	if r.mailer != nil && sub.Source != SourceImport {
		ph := mail.Placeholders(res.Clinic, map[string]string{
			"<Voornaam>":       strings.TrimSpace(sub.FirstName),
			"<Achternaam>":     strings.TrimSpace(sub.LastName),
			"<Email>":          strings.TrimSpace(sub.Email),
			"<Telefoonnummer>": strings.TrimSpace(sub.Phone),
			"<Geboortedatum>":  strings.TrimSpace(sub.DOB),
			"<Woonplaats>":     strings.TrimSpace(sub.City),
			"<Opmerking>":      strings.TrimSpace(sub.Comments),
			"<Motivatie>":      strings.TrimSpace(sub.Motivation),
			"<Deelnemernummer>": res.Sequence,
		})
		if err := r.mailer.SendConfirmation(ctx, res.Clinic.Type, ph); err != nil {
			r.logger.Error("confirmation mail failed", "to", sub.Email, "error", err)
		}
	}

	return res, nil
}

// patchExisting merges the non-empty submission fields into the existing
// participant row, keeping its sequence number and folder. The registration
// method is widened when an import row now also booked via the form.
func (r *Reconciler) patchExisting(ctx context.Context, table string, pos int, sub Submission) (sequence, folderRef string, err error) {
	headers, rows, err := r.store.ReadAll(ctx, table)
	if err != nil {
		return "", "", err
	}
	if pos < 1 || pos > len(rows) {
		return "", "", fmt.Errorf("booking: duplicate row %d out of range in %s", pos, table)
	}
	hm := sheet.Headers(headers)
	row := rows[pos-1].Clone()

	patch := func(col, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if hm.Set(&row, col, value) {
			r.logger.Info("participant field updated", "table", table, "row", pos, "column", col)
		}
	}
	patch(tables.ColFirstName, sub.FirstName)
	patch(tables.ColLastName, sub.LastName)
	patch(tables.ColPhone, sub.Phone)
	patch(tables.ColDOB, sub.DOB)
	patch(tables.ColCity, sub.City)
	patch(tables.ColComments, sub.Comments)
	patch(tables.ColMotivation, sub.Motivation)

	if !sub.ReceivedAt.IsZero() {
		hm.Set(&row, tables.ColTimestamp, sub.ReceivedAt.Format(TimestampLayout))
	}
	if strings.TrimSpace(hm.Value(row, tables.ColRegMethod)) == SourceImport && sub.Source != SourceImport {
		hm.Set(&row, tables.ColRegMethod, SourceBoth)
	}

	sequence = strings.TrimSpace(hm.Value(row, tables.ColSequence))
	folderRef = strings.TrimSpace(hm.Value(row, tables.ColPartFolderID))

	if err := r.store.WriteRow(ctx, table, pos, row); err != nil {
		return "", "", fmt.Errorf("patch duplicate row %d in %s: %w", pos, table, err)
	}
	r.logger.Info("duplicate booking merged into existing participant",
		"table", table, "row", pos, "email", sub.Email, "sequence", sequence)

	r.renameParticipantFolder(ctx, folderRef, sequence, sub)
	return sequence, folderRef, nil
}

// renameParticipantFolder keeps the folder name aligned with updated name
// fields. Failures only warn.
func (r *Reconciler) renameParticipantFolder(ctx context.Context, folderRef, sequence string, sub Submission) {
	if r.drive == nil || folderRef == "" {
		return
	}
	if strings.TrimSpace(sub.FirstName) == "" && strings.TrimSpace(sub.LastName) == "" {
		return
	}
	name := participantFolderName(formatSequence(sequence), sub.FirstName, sub.LastName)
	current, err := r.drive.FolderByID(ctx, folderRef)
	if err != nil {
		r.logger.Warn("participant folder lookup failed", "folder", folderRef, "error", err)
		return
	}
	if current.Name == name {
		return
	}
	if err := r.drive.RenameFolder(ctx, folderRef, name); err != nil {
		r.logger.Warn("participant folder rename failed", "folder", folderRef, "error", err)
		return
	}
	r.logger.Info("participant folder renamed", "from", current.Name, "to", name)
}

// admitNew books a fresh participant: seat increment (unless allowlisted),
// event and participant folders, folder back-fill on the clinic row.
func (r *Reconciler) admitNew(ctx context.Context, clinic *catalog.Clinic, sub Submission) (sequence, folderRef string, err error) {
	countable := r.allow == nil || !r.allow.Contains(ctx, sub.Email)
	if !countable {
		r.logger.Info("non-participant account, seat count unchanged", "email", sub.Email)
		sequence = allowlist.SequenceSentinel
	}

	booked, err := r.catalog.IncrementBookedSeats(ctx, *clinic, countable)
	if err != nil {
		return "", "", err
	}
	clinic.BookedSeats = booked
	if countable {
		sequence = fmt.Sprintf("%02d", booked)
	}

	if r.drive != nil {
		eventFolder, err := r.ensureEventFolder(ctx, *clinic)
		if err != nil {
			return "", "", err
		}
		if clinic.FolderRef == "" {
			if err := r.catalog.SetFolderRef(ctx, *clinic, eventFolder.ID); err != nil {
				return "", "", err
			}
			clinic.FolderRef = eventFolder.ID
		}
		name := participantFolderName(sequence, sub.FirstName, sub.LastName)
		sub2, err := r.drive.CreateFolder(ctx, eventFolder.ID, name)
		if err != nil {
			return "", "", fmt.Errorf("create participant folder %q: %w", name, err)
		}
		folderRef = sub2.ID
		r.logger.Info("participant folder created", "name", name, "folder", folderRef)
	}

	r.logger.Info("new participant admitted",
		"clinic", clinic.DisplayName(), "email", sub.Email, "sequence", sequence, "booked", booked)
	return sequence, folderRef, nil
}

// ensureEventFolder finds or creates the clinic's folder under the parent.
// Multiple folders with the same name warn and use the oldest.
func (r *Reconciler) ensureEventFolder(ctx context.Context, clinic catalog.Clinic) (drive.Folder, error) {
	name := clinic.FolderName()
	folders, err := r.drive.FoldersByName(ctx, r.driveParent, name)
	if err != nil {
		return drive.Folder{}, fmt.Errorf("find event folder %q: %w", name, err)
	}
	if len(folders) > 0 {
		if len(folders) > 1 {
			r.logger.Warn("multiple event folders share a name, using the first",
				"name", name, "folder", folders[0].ID)
		}
		return folders[0], nil
	}
	folder, err := r.drive.CreateFolder(ctx, r.driveParent, name)
	if err != nil {
		return drive.Folder{}, fmt.Errorf("create event folder %q: %w", name, err)
	}
	r.logger.Info("event folder created", "name", name, "folder", folder.ID)
	return folder, nil
}

// stampLandedRow writes the assigned sequence number and folder reference
// into the just-landed response row.
func (r *Reconciler) stampLandedRow(ctx context.Context, sub Submission, sequence, folderRef string) error {
	headers, rows, err := r.store.ReadAll(ctx, sub.Table)
	if err != nil {
		return err
	}
	if sub.Row < 1 || sub.Row > len(rows) {
		return fmt.Errorf("booking: landed row %d out of range in %s", sub.Row, sub.Table)
	}
	hm := sheet.Headers(headers)
	row := rows[sub.Row-1].Clone()
	hm.Set(&row, tables.ColSequence, sequence)
	hm.Set(&row, tables.ColPartFolderID, folderRef)
	return r.store.WriteRow(ctx, sub.Table, sub.Row, row)
}

func participantFolderName(sequence, first, last string) string {
	name := strings.Join(strings.Fields(sequence+" "+first+" "+last), " ")
	return strings.TrimSpace(name)
}

// formatSequence zero-pads numeric sequence values; the sentinel and other
// non-numeric values pass through.
func formatSequence(sequence string) string {
	n, err := strconv.Atoi(strings.TrimSpace(sequence))
	if err != nil {
		return strings.TrimSpace(sequence)
	}
	return fmt.Sprintf("%02d", n)
}
