package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwilkes/clinicdesk/internal/documents"
	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const maxUploadBytes = 25 << 20

type DocumentsHandler struct {
	actions *documents.Actions
	logger  *logging.Logger
}

func NewDocumentsHandler(actions *documents.Actions, logger *logging.Logger) *DocumentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DocumentsHandler{actions: actions, logger: logger}
}

// Upload accepts a multipart form with a "file" part, a "patientId" field,
// and an optional "description". The action outcome is reported in the
// result body.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	patientID := r.FormValue("patientId")
	if !canAccessPatient(claims, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	result := h.actions.Upload(r.Context(), documents.UploadInput{
		PatientID:   patientID,
		FileName:    header.Filename,
		Description: r.FormValue("description"),
		ContentType: header.Header.Get("Content-Type"),
		UploadedBy:  claims.UID,
		Data:        data,
	})
	writeJSON(w, http.StatusOK, result)
}

// SaveTags replaces the tag list on a patient document.
func (h *DocumentsHandler) SaveTags(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	patientID := chi.URLParam(r, "patientID")
	if !canAccessPatient(claims, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	result := h.actions.SaveTags(r.Context(), patientID, chi.URLParam(r, "documentID"), body.Tags)
	writeJSON(w, http.StatusOK, result)
}

// Delete removes a patient document and its blob.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	patientID := chi.URLParam(r, "patientID")
	if !canAccessPatient(claims, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	result := h.actions.Delete(r.Context(), patientID, chi.URLParam(r, "documentID"))
	writeJSON(w, http.StatusOK, result)
}

// UploadAvatar stores a profile photo for the calling user.
func (h *DocumentsHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	result := h.actions.UploadAvatar(r.Context(), claims.UID, header.Filename, header.Header.Get("Content-Type"), data)
	writeJSON(w, http.StatusOK, result)
}
