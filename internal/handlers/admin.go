package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thermoclinics/clinicsync/internal/archive"
	"github.com/thermoclinics/clinicsync/internal/calendar"
	"github.com/thermoclinics/clinicsync/internal/cascade"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/identity"
	"github.com/thermoclinics/clinicsync/internal/importer"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
	"github.com/thermoclinics/clinicsync/internal/worker"
)

// AdminHandler exposes the operator API: clinic CRUD with edit
// propagation, form option feeds, participant listings, archival
// triggers and CSV import.
type AdminHandler struct {
	store    sheet.Store
	catalog  *catalog.Manager
	cascade  *cascade.Propagator
	calendar *calendar.Syncer
	archiver *worker.Worker
	engine   *archive.Engine
	importer *importer.Importer
	logger   *slog.Logger
}

func NewAdminHandler(
	store sheet.Store,
	cat *catalog.Manager,
	casc *cascade.Propagator,
	cal *calendar.Syncer,
	archiver *worker.Worker,
	engine *archive.Engine,
	imp *importer.Importer,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		store:    store,
		catalog:  cat,
		cascade:  casc,
		calendar: cal,
		archiver: archiver,
		engine:   engine,
		importer: imp,
		logger:   logger,
	}
}

// Register wires the admin routes onto the mux.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/clinics", h.ListClinics)
	mux.HandleFunc("POST /v1/clinics", h.CreateClinic)
	mux.HandleFunc("PUT /v1/clinics/{id}", h.UpdateClinic)
	mux.HandleFunc("GET /v1/clinics/options", h.FormOptions)
	mux.HandleFunc("GET /v1/clinics/{id}/participants", h.ListParticipants)
	mux.HandleFunc("GET /v1/participants/missing-core-email", h.ListMissingCoreEmail)
	mux.HandleFunc("POST /v1/archive/run", h.RunArchive)
	mux.HandleFunc("POST /v1/archive/sweep", h.SweepArchive)
	mux.HandleFunc("POST /v1/import", h.ImportCSV)
}

type clinicPayload struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Location    string `json:"location"`
	MaxSeats    int    `json:"max_seats"`
	BookedSeats int    `json:"booked_seats"`
	Type        string `json:"type"`
}

type clinicItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Location    string `json:"location"`
	MaxSeats    int    `json:"max_seats"`
	BookedSeats int    `json:"booked_seats"`
	Available   int    `json:"available_seats"`
	Type        string `json:"type"`
	FolderRef   string `json:"folder_ref,omitempty"`
	CalendarRef string `json:"calendar_ref,omitempty"`
}

func clinicToItem(c catalog.Clinic) clinicItem {
	available, _ := catalog.Availability(c)
	date := strings.TrimSpace(c.RawDate)
	if c.HasDate {
		date = catalog.FormatCellDate(c.Date)
	}
	return clinicItem{
		ID:          c.ID,
		Name:        c.DisplayName(),
		Date:        date,
		Time:        c.Time,
		Location:    c.Location,
		MaxSeats:    c.MaxSeats,
		BookedSeats: c.BookedSeats,
		Available:   available,
		Type:        string(c.Type),
		FolderRef:   c.FolderRef,
		CalendarRef: c.CalendarRef,
	}
}

func (h *AdminHandler) ListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.catalog.All(r.Context())
	if err != nil {
		http.Error(w, "failed to list clinics", http.StatusInternalServerError)
		return
	}
	items := make([]clinicItem, 0, len(clinics))
	for _, c := range clinics {
		items = append(items, clinicToItem(c))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) CreateClinic(w http.ResponseWriter, r *http.Request) {
	var req clinicPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	c, errMsg := clinicFromPayload(req)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	created, err := h.catalog.Create(r.Context(), c, uuid.NewString)
	if err != nil {
		http.Error(w, "failed to create clinic", http.StatusInternalServerError)
		return
	}
	if h.calendar != nil {
		if err := h.calendar.SyncClinic(r.Context(), created); err != nil {
			h.logger.Warn("calendar sync failed for new clinic", "clinic", created.DisplayName(), "err", err)
		} else if fresh, err := h.catalog.FindByID(r.Context(), created.ID); err == nil {
			created = fresh
		}
	}
	writeJSON(w, http.StatusCreated, clinicToItem(created))
}

func (h *AdminHandler) UpdateClinic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req clinicPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	updated, errMsg := clinicFromPayload(req)
	if errMsg != "" {
		http.Error(w, errMsg, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	before, err := h.catalog.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "clinic not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load clinic", http.StatusInternalServerError)
		return
	}

	after := before
	after.Date = updated.Date
	after.HasDate = updated.HasDate
	after.RawDate = updated.RawDate
	after.Time = updated.Time
	after.Location = updated.Location
	after.MaxSeats = updated.MaxSeats
	if req.BookedSeats > 0 {
		after.BookedSeats = req.BookedSeats
	}
	after.Type = updated.Type

	if err := h.catalog.Save(ctx, after); err != nil {
		http.Error(w, "failed to save clinic", http.StatusInternalServerError)
		return
	}
	if h.cascade != nil {
		if err := h.cascade.ClinicEdited(ctx, before, after); err != nil {
			if errors.Is(err, cascade.ErrHeaderMismatch) {
				http.Error(w, "response tables have mismatched headers; participants were not moved", http.StatusConflict)
				return
			}
			http.Error(w, "failed to propagate clinic edit", http.StatusInternalServerError)
			return
		}
	}

	fresh, err := h.catalog.FindByID(ctx, id)
	if err != nil {
		fresh = after
	}
	writeJSON(w, http.StatusOK, clinicToItem(fresh))
}

func (h *AdminHandler) FormOptions(w http.ResponseWriter, r *http.Request) {
	typ := catalog.ParseType(r.URL.Query().Get("type"))
	if typ == "" {
		http.Error(w, "type must be open or besloten", http.StatusBadRequest)
		return
	}
	options, err := h.catalog.FormOptions(r.Context(), typ, time.Now())
	if err != nil {
		http.Error(w, "failed to build options", http.StatusInternalServerError)
		return
	}
	if options == nil {
		options = []string{}
	}
	writeJSON(w, http.StatusOK, options)
}

type participantItem struct {
	Sequence  string `json:"sequence"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	City      string `json:"city,omitempty"`
	RegMethod string `json:"registration_method,omitempty"`
	Archived  bool   `json:"archived,omitempty"`
}

func (h *AdminHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.catalog.FindByID(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "clinic not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load clinic", http.StatusInternalServerError)
		return
	}

	table := tables.OpenResponses
	if c.Type == catalog.TypeBesloten {
		table = tables.BeslotenResponses
	}
	headers, rows, err := h.store.ReadAll(ctx, table)
	if err != nil {
		if errors.Is(err, sheet.ErrTableNotFound) {
			writeJSON(w, http.StatusOK, []participantItem{})
			return
		}
		http.Error(w, "failed to read participants", http.StatusInternalServerError)
		return
	}

	hm := sheet.Headers(headers)
	key := c.Key()
	items := make([]participantItem, 0)
	for _, row := range rows {
		base, _ := identity.StripSeatSuffix(hm.Value(row, tables.ColClinic))
		if identity.NormalizeClinicKey(base) != key {
			continue
		}
		items = append(items, participantItem{
			Sequence:  hm.Value(row, tables.ColSequence),
			FirstName: hm.Value(row, tables.ColFirstName),
			LastName:  hm.Value(row, tables.ColLastName),
			Email:     hm.Value(row, tables.ColEmail),
			Phone:     hm.Value(row, tables.ColPhone),
			City:      hm.Value(row, tables.ColCity),
			RegMethod: hm.Value(row, tables.ColRegMethod),
			Archived:  hm.Value(row, tables.ColArchived) == tables.ArchivedMark,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type missingCoreEmailItem struct {
	Clinic    string `json:"clinic"`
	Sequence  string `json:"sequence"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// ListMissingCoreEmail reports active participants without a CORE app
// email address, so the operators can chase them before clinic day.
func (h *AdminHandler) ListMissingCoreEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items := make([]missingCoreEmailItem, 0)
	for _, table := range []string{tables.OpenResponses, tables.BeslotenResponses} {
		headers, rows, err := h.store.ReadAll(ctx, table)
		if err != nil {
			if errors.Is(err, sheet.ErrTableNotFound) {
				continue
			}
			http.Error(w, "failed to read participants", http.StatusInternalServerError)
			return
		}
		hm := sheet.Headers(headers)
		for _, row := range rows {
			if hm.Value(row, tables.ColArchived) == tables.ArchivedMark {
				continue
			}
			if strings.TrimSpace(hm.Value(row, tables.ColCoreAppEmail)) != "" {
				continue
			}
			if strings.TrimSpace(hm.Value(row, tables.ColEmail)) == "" {
				continue
			}
			items = append(items, missingCoreEmailItem{
				Clinic:    hm.Value(row, tables.ColClinic),
				Sequence:  hm.Value(row, tables.ColSequence),
				FirstName: hm.Value(row, tables.ColFirstName),
				LastName:  hm.Value(row, tables.ColLastName),
				Email:     hm.Value(row, tables.ColEmail),
			})
		}
	}
	writeJSON(w, http.StatusOK, items)
}

type archiveResponse struct {
	ClinicsArchived      int `json:"clinics_archived"`
	ParticipantsArchived int `json:"participants_archived"`
	RowsFlagged          int `json:"rows_flagged"`
	RowsDeleted          int `json:"rows_deleted"`
}

func (h *AdminHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	report, err := h.archiver.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("on-demand archival failed", "err", err)
		http.Error(w, "archival run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, archiveResponse{
		ClinicsArchived:      report.ClinicsArchived,
		ParticipantsArchived: report.ParticipantsArchived,
		RowsFlagged:          report.RowsFlagged,
		RowsDeleted:          report.RowsDeleted,
	})
}

// SweepArchive re-verifies flagged rows against the archive table.
// Deletion requires confirm=true; without it the sweep only repairs
// rows missing from the archive.
func (h *AdminHandler) SweepArchive(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	report, err := h.engine.SweepFlagged(r.Context(), confirm)
	if err != nil {
		h.logger.Error("archive sweep failed", "err", err)
		http.Error(w, "archive sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, archiveResponse{
		ParticipantsArchived: report.ParticipantsArchived,
		RowsDeleted:          report.RowsDeleted,
	})
}

type importResponse struct {
	Clinic  string   `json:"clinic"`
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

func (h *AdminHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	summary, err := h.importer.Run(r.Context(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Clinic:  summary.Clinic,
		Added:   summary.Added,
		Updated: summary.Updated,
		Failed:  summary.Failed,
		Errors:  summary.Errors,
	})
}

func clinicFromPayload(req clinicPayload) (catalog.Clinic, string) {
	c := catalog.Clinic{
		Time:        strings.TrimSpace(req.Time),
		Location:    strings.TrimSpace(req.Location),
		MaxSeats:    req.MaxSeats,
		BookedSeats: req.BookedSeats,
		Type:        catalog.ParseType(req.Type),
	}
	if c.Location == "" {
		return c, "location is required"
	}
	if c.MaxSeats <= 0 {
		return c, "max_seats must be positive"
	}
	if c.Type == "" {
		return c, "type must be open or besloten"
	}
	c.RawDate = strings.TrimSpace(req.Date)
	if d, ok := catalog.ParseCellDate(c.RawDate); ok {
		c.Date = d
		c.HasDate = true
	}
	return c, ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
