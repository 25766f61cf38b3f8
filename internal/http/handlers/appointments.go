package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwilkes/clinicdesk/internal/appointments"
	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type AppointmentsHandler struct {
	svc    *appointments.Service
	logger *logging.Logger
}

func NewAppointmentsHandler(svc *appointments.Service, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{svc: svc, logger: logger}
}

// Create queues a new appointment. A patient may only book for themselves.
func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	var appt appointments.Appointment
	if err := decodeJSON(w, r, &appt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if claims.Role == users.RolePatient {
		appt.PatientID = claims.UID
	}
	handle, err := h.svc.Create(r.Context(), appt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, queued(handle))
}

func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if !canAccessPatient(claims, appt.PatientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentsHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// ListByDoctor returns a doctor's schedule. Staff only; the router enforces
// the role.
func (h *AppointmentsHandler) ListByDoctor(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListByDoctor(r.Context(), chi.URLParam(r, "doctorID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// UpdateStatus queues an appointment status transition. Staff only.
func (h *AppointmentsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "appointmentID"), body.Status)
	if err != nil {
		if errors.Is(err, appointments.ErrBadTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queued(handle))
}
