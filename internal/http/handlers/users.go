package handlers

import (
	"net/http"

	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// UsersHandler serves account profiles.
type UsersHandler struct {
	store  *users.Store
	logger *logging.Logger
}

func NewUsersHandler(store *users.Store, logger *logging.Logger) *UsersHandler {
	if store == nil {
		panic("handlers: users store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &UsersHandler{store: store, logger: logger}
}

// Me returns the authenticated caller's account record.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.store.Get(r.Context(), claims.UID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListDoctors returns all doctor accounts, used when scheduling appointments.
func (h *UsersHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.store.ListByRole(r.Context(), users.RoleDoctor)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}
