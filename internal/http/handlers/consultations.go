package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwilkes/clinicdesk/internal/consultations"
	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type ConsultationsHandler struct {
	svc    *consultations.Service
	logger *logging.Logger
}

func NewConsultationsHandler(svc *consultations.Service, logger *logging.Logger) *ConsultationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConsultationsHandler{svc: svc, logger: logger}
}

// Create queues a new consultation. A doctor always authors as themselves.
func (h *ConsultationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var c consultations.Consultation
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if claims.Role == users.RoleDoctor {
		c.DoctorID = claims.UID
	}
	handle, err := h.svc.Create(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, queued(handle))
}

// Amend queues a diagnosis/notes revision by the authoring doctor.
func (h *ConsultationsHandler) Amend(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var body struct {
		Diagnosis string `json:"diagnosis"`
		Notes     string `json:"notes"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle, err := h.svc.Amend(r.Context(), chi.URLParam(r, "consultationID"), claims.UID, body.Diagnosis, body.Notes)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			writeStoreError(w, err)
			return
		}
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, queued(handle))
}

func (h *ConsultationsHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if !canAccessPatient(claims, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	list, err := h.svc.ListByPatient(r.Context(), patientID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consultations": list})
}

// ListByDoctor returns a doctor's consultations. Staff only; the router
// enforces the role.
func (h *ConsultationsHandler) ListByDoctor(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListByDoctor(r.Context(), chi.URLParam(r, "doctorID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consultations": list})
}
