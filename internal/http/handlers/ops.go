package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type opReader interface {
	GetOp(ctx context.Context, opID string) (*writer.OpRecord, error)
}

// OpsHandler reports the status of queued write operations.
type OpsHandler struct {
	ops    opReader
	logger *logging.Logger
}

func NewOpsHandler(ops opReader, logger *logging.Logger) *OpsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OpsHandler{ops: ops, logger: logger}
}

func (h *OpsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.ops == nil {
		writeError(w, http.StatusServiceUnavailable, "op tracking not configured")
		return
	}
	op, err := h.ops.GetOp(r.Context(), chi.URLParam(r, "opID"))
	if err != nil {
		if errors.Is(err, writer.ErrOpNotFound) {
			writeError(w, http.StatusNotFound, "op not found")
			return
		}
		h.logger.Error("op lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, op)
}
