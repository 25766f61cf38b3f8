// Package handlers implements the HTTP endpoints for the clinic API. Write
// endpoints queue through the writer and answer 202 with the op and document
// ids; reads answer from the record store directly.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/internal/writer"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

// queued is the body of every 202 response for a write that was accepted but
// not yet committed.
func queued(handle writer.Handle) map[string]string {
	return map[string]string{
		"opId": handle.OpID,
		"id":   handle.DocID,
		"path": handle.Path(),
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, records.ErrUnknownCollection), errors.Is(err, records.ErrBadFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toBody(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// canAccessPatient reports whether the authenticated user may read or write
// records belonging to patientID. Staff roles may; a patient only their own.
func canAccessPatient(claims middleware.UserClaims, patientID string) bool {
	if users.IsStaff(claims.Role) {
		return true
	}
	return claims.Role == users.RolePatient && claims.UID == patientID
}
