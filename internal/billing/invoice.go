// Package billing manages invoices and their payment lifecycle. Invoices
// start unpaid, move to pending when a payment link is minted, and to paid
// when the provider confirms the charge via webhook.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const (
	StatusUnpaid  = "unpaid"
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// Invoice is one billing record. Amount is in cents.
type Invoice struct {
	ID             string `json:"id"`
	PatientID      string `json:"patientId" validate:"required"`
	AmountCents    int64  `json:"amountCents" validate:"required,gt=0"`
	BillingDate    string `json:"billingDate" validate:"required"`
	Description    string `json:"description,omitempty"`
	PaymentStatus  string `json:"paymentStatus" validate:"required,oneof=unpaid pending paid"`
	PaymentLinkURL string `json:"paymentLinkUrl,omitempty"`
	ProviderRef    string `json:"providerRef,omitempty"`
}

var validate = validator.New()

func (i Invoice) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("billing: invalid invoice: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, i.BillingDate); err != nil {
		return fmt.Errorf("billing: invalid billingDate: %w", err)
	}
	return nil
}

// Service wraps invoice reads and queued writes.
type Service struct {
	records records.Store
	writer  *writer.Writer
	logger  *logging.Logger
}

func NewService(recordStore records.Store, w *writer.Writer, logger *logging.Logger) *Service {
	if recordStore == nil {
		panic("billing: record store cannot be nil")
	}
	if w == nil {
		panic("billing: writer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{records: recordStore, writer: w, logger: logger}
}

// Create queues a new invoice and returns its handle before the write
// commits. Status defaults to unpaid.
func (s *Service) Create(ctx context.Context, inv Invoice) (writer.Handle, error) {
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = StatusUnpaid
	}
	if inv.BillingDate == "" {
		inv.BillingDate = time.Now().UTC().Format(time.RFC3339)
	}
	if err := inv.Validate(); err != nil {
		return writer.Handle{}, err
	}

	body, err := toMap(inv)
	if err != nil {
		return writer.Handle{}, err
	}
	delete(body, "id")

	return s.writer.CreateAuto(ctx, records.CollectionInvoices, body), nil
}

// Get fetches one invoice.
func (s *Service) Get(ctx context.Context, id string) (Invoice, error) {
	rec, err := s.records.Get(ctx, records.CollectionInvoices, id)
	if err != nil {
		return Invoice{}, err
	}
	return decode(rec)
}

// ListByPatient returns a patient's invoices, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]Invoice, error) {
	recs, err := s.records.List(ctx, records.Query{
		Collection: records.CollectionInvoices,
		Filters: []records.Filter{
			{Field: "patientId", Op: "==", Value: patientID},
		},
		OrderBy: "billingDate",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}

	invoices := make([]Invoice, 0, len(recs))
	for _, rec := range recs {
		inv, err := decode(rec)
		if err != nil {
			continue
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// ListByStatus returns invoices in one payment status, newest first. Used by
// staff dashboards for outstanding balances.
func (s *Service) ListByStatus(ctx context.Context, status string) ([]Invoice, error) {
	recs, err := s.records.List(ctx, records.Query{
		Collection: records.CollectionInvoices,
		Filters: []records.Filter{
			{Field: "paymentStatus", Op: "==", Value: status},
		},
		OrderBy: "billingDate",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}

	invoices := make([]Invoice, 0, len(recs))
	for _, rec := range recs {
		inv, err := decode(rec)
		if err != nil {
			continue
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func decode(rec records.Document) (Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(rec.Data, &inv); err != nil {
		return Invoice{}, fmt.Errorf("billing: decode %s: %w", rec.ID, err)
	}
	if inv.ID == "" {
		inv.ID = rec.ID
	}
	return inv, nil
}

func toMap(inv Invoice) (map[string]any, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("billing: encode invoice: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("billing: encode invoice: %w", err)
	}
	return body, nil
}
