// Package ai wraps hosted generative models behind named flows. Each flow
// validates its input, makes a single model call with a fixed prompt, and
// validates the structured output before returning it.
package ai

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of model input.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MediaPart is an inline binary attachment, typically decoded from a data URI.
type MediaPart struct {
	MIMEType string
	Data     []byte
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	Media       []MediaPart
	MaxTokens   int32
	Temperature float32
	TopP        float32
	// JSONOutput asks the model for a bare JSON object response.
	JSONOutput bool
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
