package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type processedTracker interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	Record(ctx context.Context, provider, eventID string) (bool, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

// WebhookHandler processes Square payment.updated callbacks and marks the
// referenced invoice paid. Events are idempotent keyed on the provider event
// id.
type WebhookHandler struct {
	signatureKey string
	store        records.Store
	processed    processedTracker
	outbox       outboxWriter
	bus          livequery.Bus
	logger       *logging.Logger
}

func NewWebhookHandler(sigKey string, store records.Store, processed processedTracker, outbox outboxWriter, bus livequery.Bus, logger *logging.Logger) *WebhookHandler {
	if store == nil {
		panic("billing: record store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		signatureKey: sigKey,
		store:        store,
		processed:    processed,
		outbox:       outbox,
		bus:          bus,
		logger:       logger,
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !verifySignature(h.signatureKey, buildAbsoluteURL(r), payload, r.Header.Get("X-Square-Signature")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var evt paymentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode payment event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	eventID := evt.EventID
	if eventID == "" {
		eventID = evt.ID
	}
	if eventID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if h.processed != nil {
		if seen, err := h.processed.Seen(r.Context(), "square", eventID); err != nil {
			h.logger.Error("processed lookup failed", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		} else if seen {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	payment := evt.Data.Object.Payment
	if payment.Status != "COMPLETED" {
		w.WriteHeader(http.StatusOK)
		return
	}

	invoiceID := payment.Metadata["invoice_id"]
	if invoiceID == "" {
		// Acknowledge to stop provider retries; there is nothing to update.
		h.logger.Warn("payment event missing invoice metadata", "event_id", eventID, "payment_id", payment.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	rec, err := h.store.Get(r.Context(), records.CollectionInvoices, invoiceID)
	if err != nil {
		h.logger.Error("invoice lookup failed", "error", err, "invoice_id", invoiceID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	inv, err := decode(rec)
	if err != nil {
		h.logger.Error("invoice decode failed", "error", err, "invoice_id", invoiceID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	err = h.store.Patch(r.Context(), records.CollectionInvoices, invoiceID, map[string]any{
		"paymentStatus": StatusPaid,
		"providerRef":   payment.ID,
	})
	if err != nil {
		h.logger.Error("failed to mark invoice paid", "error", err, "invoice_id", invoiceID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if h.processed != nil {
		if _, err := h.processed.Record(r.Context(), "square", eventID); err != nil {
			h.logger.Warn("failed to record processed event", "error", err, "event_id", eventID)
		}
	}

	if h.outbox != nil {
		_, err := h.outbox.Insert(r.Context(), events.TypeInvoicePaidV1, events.InvoicePaidV1{
			EventID:     eventID,
			InvoiceID:   invoiceID,
			PatientID:   inv.PatientID,
			AmountCents: inv.AmountCents,
			Provider:    "square",
			ProviderRef: payment.ID,
			OccurredAt:  time.Now().UTC(),
		})
		if err != nil {
			h.logger.Warn("failed to record invoice event", "error", err, "invoice_id", invoiceID)
		}
	}

	if h.bus != nil {
		change := livequery.Change{
			Collection: records.CollectionInvoices,
			DocID:      invoiceID,
			Op:         events.OpPatch,
		}
		if err := h.bus.Publish(r.Context(), change); err != nil {
			h.logger.Warn("failed to announce invoice change", "error", err, "invoice_id", invoiceID)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func verifySignature(key, url string, body []byte, header string) bool {
	if key == "" || header == "" {
		return false
	}
	message := url + string(body)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(message))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(expected))
}

type paymentEvent struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Payment struct {
				ID       string            `json:"id"`
				Status   string            `json:"status"`
				Metadata map[string]string `json:"metadata"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
