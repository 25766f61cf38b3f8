package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/patients"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type PatientsHandler struct {
	store  *patients.Store
	writer *writer.Writer
	logger *logging.Logger
}

func NewPatientsHandler(store *patients.Store, w *writer.Writer, logger *logging.Logger) *PatientsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PatientsHandler{store: store, writer: w, logger: logger}
}

// List returns all patients. Staff only; the router enforces the role.
func (h *PatientsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": list})
}

func (h *PatientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if !canAccessPatient(claims, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	patient, err := h.store.Get(r.Context(), patientID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

// Create queues a new patient record. Staff only.
func (h *PatientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var patient patients.Patient
	if err := decodeJSON(w, r, &patient); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := patient.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := toBody(patient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	delete(body, "id")
	handle := h.writer.CreateAuto(r.Context(), records.CollectionPatients, body)
	writeJSON(w, http.StatusAccepted, queued(handle))
}

// RegisterSelf queues a patient record keyed by the caller's own user id.
// Used during patient self-registration after sign-up.
func (h *PatientsHandler) RegisterSelf(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var patient patients.Patient
	if err := decodeJSON(w, r, &patient); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	patient.ID = claims.UID
	if err := patient.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := toBody(patient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := h.writer.Set(r.Context(), records.CollectionPatients, claims.UID, body)
	writeJSON(w, http.StatusAccepted, queued(handle))
}

// Update queues a partial update of a patient record.
func (h *PatientsHandler) Update(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if !canAccessPatient(claims, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var fields map[string]any
	if err := decodeJSON(w, r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "empty update")
		return
	}
	delete(fields, "id")
	handle := h.writer.Patch(r.Context(), records.CollectionPatients, patientID, fields)
	writeJSON(w, http.StatusAccepted, queued(handle))
}
