package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwilkes/clinicdesk/internal/billing"
	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type InvoicesHandler struct {
	svc     *billing.Service
	actions *billing.Actions
	logger  *logging.Logger
}

func NewInvoicesHandler(svc *billing.Service, actions *billing.Actions, logger *logging.Logger) *InvoicesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &InvoicesHandler{svc: svc, actions: actions, logger: logger}
}

// Create queues a new invoice. Staff only; the router enforces the role.
func (h *InvoicesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var inv billing.Invoice
	if err := decodeJSON(w, r, &inv); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle, err := h.svc.Create(r.Context(), inv)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, queued(handle))
}

func (h *InvoicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Get(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if !canAccessPatient(claims, inv.PatientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *InvoicesHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]any{"invoices": list})
}

// ListByStatus returns all invoices in one payment status. Staff only.
func (h *InvoicesHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = billing.StatusUnpaid
	}
	list, err := h.svc.ListByStatus(r.Context(), status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": list})
}

// CreatePaymentLink mints a hosted payment link for an invoice. The provider
// outcome is reported in the result body, not the HTTP status.
func (h *InvoicesHandler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	if h.actions == nil {
		writeError(w, http.StatusServiceUnavailable, "payments not configured")
		return
	}
	var body struct {
		AmountCents int64  `json:"amountCents"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	result := h.actions.CreatePaymentLink(r.Context(), billing.PaymentLinkInput{
		InvoiceID:   chi.URLParam(r, "invoiceID"),
		AmountCents: body.AmountCents,
		Title:       body.Title,
		Description: body.Description,
	})
	writeJSON(w, http.StatusOK, result)
}
