package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// opPayload is the wire form of a queued write.
type opPayload struct {
	OpID        string          `json:"op_id"`
	Collection  string          `json:"collection"`
	DocID       string          `json:"doc_id"`
	Kind        string          `json:"kind"`
	Data        json.RawMessage `json:"data,omitempty"`
	Fields      map[string]any  `json:"fields,omitempty"`
	TrackStatus bool            `json:"track_status"`
}

// EnqueueOption customizes how a write is queued.
type EnqueueOption func(*opPayload)

// WithoutOpTracking disables op status persistence for fire-and-forget writes.
func WithoutOpTracking() EnqueueOption {
	return func(p *opPayload) {
		p.TrackStatus = false
	}
}

func encodeOp(payload opPayload) (opPayload, string, error) {
	if payload.OpID == "" {
		payload.OpID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return opPayload{}, "", fmt.Errorf("writer: failed to encode op: %w", err)
	}

	return payload, string(body), nil
}
