package billing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

var checkoutTracer = otel.Tracer("clinicdesk.internal.billing.checkout")

// PaymentLinkProvider mints hosted payment links for invoices.
type PaymentLinkProvider interface {
	CreatePaymentLink(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error)
}

type CheckoutParams struct {
	InvoiceID   string
	PatientID   string
	AmountCents int64
	Title       string
	Description string
	SuccessURL  string
}

type CheckoutResponse struct {
	URL        string
	ProviderID string
}

// SquareCheckoutService creates hosted payment links via Square's
// online-checkout API.
type SquareCheckoutService struct {
	accessToken string
	locationID  string
	successURL  string
	baseURL     string
	httpClient  *http.Client
	logger      *logging.Logger
}

func NewSquareCheckoutService(accessToken, locationID, successURL string, logger *logging.Logger) *SquareCheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	return &SquareCheckoutService{
		accessToken: accessToken,
		locationID:  locationID,
		successURL:  successURL,
		baseURL:     "https://connect.squareup.com",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

// WithBaseURL overrides the Square API host (e.g., sandbox).
func (s *SquareCheckoutService) WithBaseURL(baseURL string) *SquareCheckoutService {
	if baseURL == "" {
		return s
	}
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *SquareCheckoutService) CreatePaymentLink(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error) {
	if s.accessToken == "" {
		return nil, fmt.Errorf("billing: no square credentials configured")
	}
	if s.locationID == "" {
		return nil, fmt.Errorf("billing: no square location configured")
	}

	ctx, span := checkoutTracer.Start(ctx, "square.create_link",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicdesk.invoice_id", params.InvoiceID),
		attribute.Int64("clinicdesk.amount_cents", params.AmountCents),
	)

	successURL := params.SuccessURL
	if successURL == "" {
		successURL = s.successURL
	}

	idempotency := params.InvoiceID
	if idempotency == "" {
		idempotency = buildIdempotencyKey(params.PatientID, params.AmountCents)
	}
	name := params.Title
	if strings.TrimSpace(name) == "" {
		name = "Clinic invoice"
	}
	meta := map[string]string{
		"invoice_id": params.InvoiceID,
		"patient_id": params.PatientID,
	}

	body := map[string]any{
		"idempotency_key": idempotency,
		"order": map[string]any{
			"location_id": s.locationID,
			"metadata":    meta,
			"line_items": []map[string]any{
				{
					"name":     name,
					"quantity": "1",
					"note":     params.Description,
					"base_price_money": map[string]any{
						"amount":   params.AmountCents,
						"currency": "USD",
					},
				},
			},
		},
		"checkout_options": map[string]any{
			"redirect_url":             successURL,
			"ask_for_shipping_address": false,
		},
		"metadata": meta,
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("billing: square payload: %w", err)
	}

	apiURL := s.baseURL + "/v2/online-checkout/payment-links"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("billing: square request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("billing: square http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("billing: square api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		PaymentLink struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"payment_link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("billing: square decode: %w", err)
	}
	if parsed.PaymentLink.URL == "" {
		return nil, fmt.Errorf("billing: square response missing url")
	}

	return &CheckoutResponse{
		URL:        parsed.PaymentLink.URL,
		ProviderID: parsed.PaymentLink.ID,
	}, nil
}

func buildIdempotencyKey(patientID string, amount int64) string {
	input := fmt.Sprintf("%s:%d:%s", patientID, amount, time.Now().UTC().Format("2006-01-02T15"))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
