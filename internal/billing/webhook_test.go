package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type memProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemProcessed() *memProcessed {
	return &memProcessed{seen: make(map[string]bool)}
}

func (m *memProcessed) Seen(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[provider+":"+eventID], nil
}

func (m *memProcessed) Record(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type memOutbox struct {
	mu       sync.Mutex
	types    []string
	payloads []any
}

func (m *memOutbox) Insert(_ context.Context, eventType string, payload any) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = append(m.types, eventType)
	m.payloads = append(m.payloads, payload)
	return uuid.New(), nil
}

const testSigKey = "whsec-test"

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://clinic.example/webhooks/payments", strings.NewReader(body))
	mac := hmac.New(sha1.New, []byte(testSigKey))
	mac.Write([]byte("https://clinic.example/webhooks/payments" + body))
	req.Header.Set("X-Square-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

func paymentEventBody(eventID, invoiceID, status string) string {
	return fmt.Sprintf(`{
		"event_id": %q,
		"type": "payment.updated",
		"data": {"object": {"payment": {
			"id": "pay_1",
			"status": %q,
			"metadata": {"invoice_id": %q, "patient_id": "p1"}
		}}}
	}`, eventID, status, invoiceID)
}

func TestWebhookMarksInvoicePaid(t *testing.T) {
	store := records.NewMemoryStore()
	seedInvoice(t, store, Invoice{
		ID:            "inv-1",
		PatientID:     "p1",
		AmountCents:   12500,
		BillingDate:   "2026-08-01T00:00:00Z",
		PaymentStatus: StatusPending,
	})
	processed := newMemProcessed()
	outbox := &memOutbox{}
	handler := NewWebhookHandler(testSigKey, store, processed, outbox, nil, logging.Default())

	rec := httptest.NewRecorder()
	handler.Handle(rec, signedRequest(t, paymentEventBody("evt-1", "inv-1", "COMPLETED")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	inv := getInvoice(t, store, "inv-1")
	if inv.PaymentStatus != StatusPaid {
		t.Errorf("expected paid status, got %s", inv.PaymentStatus)
	}
	if inv.ProviderRef != "pay_1" {
		t.Errorf("expected provider ref recorded, got %q", inv.ProviderRef)
	}

	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	if len(outbox.types) != 1 || outbox.types[0] != events.TypeInvoicePaidV1 {
		t.Fatalf("expected one invoice.paid.v1 event, got %v", outbox.types)
	}
	evt := outbox.payloads[0].(events.InvoicePaidV1)
	if evt.InvoiceID != "inv-1" || evt.AmountCents != 12500 || evt.Provider != "square" {
		t.Errorf("unexpected event payload %+v", evt)
	}
}

func TestWebhookIsIdempotent(t *testing.T) {
	store := records.NewMemoryStore()
	seedInvoice(t, store, Invoice{
		ID:            "inv-1",
		PatientID:     "p1",
		AmountCents:   100,
		BillingDate:   "2026-08-01T00:00:00Z",
		PaymentStatus: StatusPending,
	})
	processed := newMemProcessed()
	outbox := &memOutbox{}
	handler := NewWebhookHandler(testSigKey, store, processed, outbox, nil, logging.Default())

	body := paymentEventBody("evt-1", "inv-1", "COMPLETED")
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.Handle(rec, signedRequest(t, body))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}

	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	if len(outbox.types) != 1 {
		t.Fatalf("expected the duplicate delivery to be skipped, got %d events", len(outbox.types))
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := records.NewMemoryStore()
	handler := NewWebhookHandler(testSigKey, store, newMemProcessed(), nil, nil, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "https://clinic.example/webhooks/payments",
		strings.NewReader(paymentEventBody("evt-1", "inv-1", "COMPLETED")))
	req.Header.Set("X-Square-Signature", "bogus")

	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookIgnoresIncompletePayments(t *testing.T) {
	store := records.NewMemoryStore()
	seedInvoice(t, store, Invoice{
		ID:            "inv-1",
		PatientID:     "p1",
		AmountCents:   100,
		BillingDate:   "2026-08-01T00:00:00Z",
		PaymentStatus: StatusPending,
	})
	handler := NewWebhookHandler(testSigKey, store, newMemProcessed(), nil, nil, logging.Default())

	rec := httptest.NewRecorder()
	handler.Handle(rec, signedRequest(t, paymentEventBody("evt-1", "inv-1", "PENDING")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	inv := getInvoice(t, store, "inv-1")
	if inv.PaymentStatus != StatusPending {
		t.Errorf("expected status unchanged for incomplete payment, got %s", inv.PaymentStatus)
	}
}
