package notify

import (
	"context"
	"testing"
)

func TestNewSendGridSenderRequiresAPIKey(t *testing.T) {
	if s := NewSendGridSender(SendGridConfig{FromEmail: "no-reply@clinic.example"}, nil); s != nil {
		t.Fatal("expected nil sender without an API key")
	}
}

func TestNewSESSenderRequiresClient(t *testing.T) {
	if s := NewSESSender(nil, SESConfig{FromEmail: "no-reply@clinic.example"}, nil); s != nil {
		t.Fatal("expected nil sender without a client")
	}
}

func TestStubEmailSenderIsNoOp(t *testing.T) {
	s := NewStubEmailSender(nil)
	err := s.Send(context.Background(), EmailMessage{To: "ada@example.com", Subject: "hi"})
	if err != nil {
		t.Fatalf("stub sender should never fail: %v", err)
	}
}
