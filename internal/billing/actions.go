package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// PaymentLinkInput is the request a staff member submits when asking for a
// hosted payment link for an invoice.
type PaymentLinkInput struct {
	InvoiceID   string
	AmountCents int64
	Title       string
	Description string
}

// PaymentLinkResult reports the outcome of minting a payment link. Provider
// failures surface here as Success=false, never as an error return.
type PaymentLinkResult struct {
	Success        bool   `json:"success"`
	PaymentLinkURL string `json:"paymentLinkUrl,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Actions holds the privileged billing operations invoked from request
// handlers.
type Actions struct {
	store    records.Store
	provider PaymentLinkProvider
	bus      livequery.Bus
	logger   *logging.Logger
}

// NewActions builds billing actions. bus may be nil when change announcements
// are disabled.
func NewActions(store records.Store, provider PaymentLinkProvider, bus livequery.Bus, logger *logging.Logger) *Actions {
	if store == nil {
		panic("billing: record store cannot be nil")
	}
	if provider == nil {
		panic("billing: payment provider cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Actions{store: store, provider: provider, bus: bus, logger: logger}
}

// CreatePaymentLink mints a hosted payment link for an invoice and marks it
// pending. If the provider call fails the invoice keeps its current status.
func (a *Actions) CreatePaymentLink(ctx context.Context, input PaymentLinkInput) PaymentLinkResult {
	if input.InvoiceID == "" {
		return PaymentLinkResult{Error: "invoice id is required"}
	}

	rec, err := a.store.Get(ctx, records.CollectionInvoices, input.InvoiceID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return PaymentLinkResult{Error: fmt.Sprintf("invoice %s not found", input.InvoiceID)}
		}
		a.logger.Error("invoice lookup failed", "error", err, "invoice_id", input.InvoiceID)
		return PaymentLinkResult{Error: "could not load invoice"}
	}
	inv, err := decode(rec)
	if err != nil {
		return PaymentLinkResult{Error: "could not load invoice"}
	}
	if inv.PaymentStatus == StatusPaid {
		return PaymentLinkResult{Error: "invoice is already paid"}
	}

	amount := input.AmountCents
	if amount == 0 {
		amount = inv.AmountCents
	}

	resp, err := a.provider.CreatePaymentLink(ctx, CheckoutParams{
		InvoiceID:   inv.ID,
		PatientID:   inv.PatientID,
		AmountCents: amount,
		Title:       input.Title,
		Description: input.Description,
	})
	if err != nil {
		a.logger.Error("payment link creation failed", "error", err, "invoice_id", inv.ID)
		return PaymentLinkResult{Error: err.Error()}
	}

	// Mark pending only after the provider succeeded; on a provider failure
	// the invoice must keep its previous status.
	err = a.store.Patch(ctx, records.CollectionInvoices, inv.ID, map[string]any{
		"paymentStatus":  StatusPending,
		"paymentLinkUrl": resp.URL,
		"providerRef":    resp.ProviderID,
	})
	if err != nil {
		a.logger.Error("failed to mark invoice pending", "error", err, "invoice_id", inv.ID)
		return PaymentLinkResult{Error: "payment link created but invoice update failed"}
	}
	a.announce(ctx, inv.ID, events.OpPatch)

	return PaymentLinkResult{Success: true, PaymentLinkURL: resp.URL}
}

func (a *Actions) announce(ctx context.Context, invoiceID, op string) {
	if a.bus == nil {
		return
	}
	change := livequery.Change{
		Collection: records.CollectionInvoices,
		DocID:      invoiceID,
		Op:         op,
	}
	if err := a.bus.Publish(ctx, change); err != nil {
		a.logger.Warn("failed to announce invoice change", "error", err, "invoice_id", invoiceID)
	}
}
