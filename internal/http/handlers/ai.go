package handlers

import (
	"errors"
	"net/http"

	"github.com/mwilkes/clinicdesk/internal/ai"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// AIHandler exposes the generative flows. AI failures are converted into
// structured {success:false, error} results so callers can render a message.
type AIHandler struct {
	flows  *ai.Flows
	logger *logging.Logger
}

func NewAIHandler(flows *ai.Flows, logger *logging.Logger) *AIHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AIHandler{flows: flows, logger: logger}
}

type flowResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *AIHandler) writeFlowResult(w http.ResponseWriter, data any, err error) {
	if err != nil {
		msg := "the model could not complete the request"
		if errors.Is(err, ai.ErrEmptyModelOutput) {
			msg = "the model returned no output"
		}
		h.logger.Error("ai flow failed", "error", err)
		writeJSON(w, http.StatusOK, flowResult{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, flowResult{Success: true, Data: data})
}

func (h *AIHandler) SuggestTags(w http.ResponseWriter, r *http.Request) {
	var input ai.SuggestDocumentTagsInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	out, err := h.flows.SuggestDocumentTags(r.Context(), input)
	h.writeFlowResult(w, out, err)
}

func (h *AIHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	var input ai.TranscribeConsultationInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	out, err := h.flows.TranscribeConsultation(r.Context(), input)
	h.writeFlowResult(w, out, err)
}

func (h *AIHandler) SuggestDiagnosis(w http.ResponseWriter, r *http.Request) {
	var input ai.SuggestDiagnosisInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	out, err := h.flows.SuggestDiagnosis(r.Context(), input)
	h.writeFlowResult(w, out, err)
}
