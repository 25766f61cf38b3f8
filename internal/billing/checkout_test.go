package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %#v", v)
	}
	return m
}

func mustSlice(t *testing.T, v any) []any {
	t.Helper()
	s, ok := v.([]any)
	if !ok {
		t.Fatalf("expected slice, got %#v", v)
	}
	return s
}

func TestSquareCheckoutBuildsPaymentLinkPayload(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v2/online-checkout/payment-links" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("expected auth header, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"payment_link":{"id":"plink_1","url":"https://square.link/abc"}}`)
	}))
	defer srv.Close()

	svc := NewSquareCheckoutService("token-abc", "LOC123", "https://clinic.example/billing", nil).WithBaseURL(srv.URL)

	resp, err := svc.CreatePaymentLink(context.Background(), CheckoutParams{
		InvoiceID:   "inv-1",
		PatientID:   "p1",
		AmountCents: 12500,
		Title:       "Consultation fee",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp.URL != "https://square.link/abc" {
		t.Fatalf("unexpected link url %s", resp.URL)
	}
	if resp.ProviderID != "plink_1" {
		t.Fatalf("unexpected provider id %s", resp.ProviderID)
	}

	if gotBody["idempotency_key"] != "inv-1" {
		t.Fatalf("expected invoice id as idempotency key, got %#v", gotBody["idempotency_key"])
	}
	order := mustMap(t, gotBody["order"])
	if order["location_id"] != "LOC123" {
		t.Fatalf("unexpected location %#v", order["location_id"])
	}
	meta := mustMap(t, order["metadata"])
	if meta["invoice_id"] != "inv-1" || meta["patient_id"] != "p1" {
		t.Fatalf("unexpected metadata %#v", meta)
	}
	items := mustSlice(t, order["line_items"])
	if len(items) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(items))
	}
	item := mustMap(t, items[0])
	if item["name"] != "Consultation fee" {
		t.Fatalf("unexpected line item name %#v", item["name"])
	}
	price := mustMap(t, item["base_price_money"])
	if int(price["amount"].(float64)) != 12500 {
		t.Fatalf("expected amount 12500, got %#v", price["amount"])
	}
	opts := mustMap(t, gotBody["checkout_options"])
	if opts["redirect_url"] != "https://clinic.example/billing" {
		t.Fatalf("unexpected redirect url %#v", opts["redirect_url"])
	}
}

func TestSquareCheckoutSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"code":"UNAUTHORIZED"}]}`)
	}))
	defer srv.Close()

	svc := NewSquareCheckoutService("bad-token", "LOC123", "", nil).WithBaseURL(srv.URL)

	_, err := svc.CreatePaymentLink(context.Background(), CheckoutParams{InvoiceID: "inv-1", AmountCents: 100})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestSquareCheckoutRequiresCredentials(t *testing.T) {
	svc := NewSquareCheckoutService("", "LOC123", "", nil)
	if _, err := svc.CreatePaymentLink(context.Background(), CheckoutParams{InvoiceID: "inv-1"}); err == nil {
		t.Fatal("expected error when access token missing")
	}

	svc = NewSquareCheckoutService("token", "", "", nil)
	if _, err := svc.CreatePaymentLink(context.Background(), CheckoutParams{InvoiceID: "inv-1"}); err == nil {
		t.Fatal("expected error when location missing")
	}
}
