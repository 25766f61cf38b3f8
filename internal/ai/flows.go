package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mwilkes/clinicdesk/internal/observability/metrics"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

var flowTracer = otel.Tracer("clinicdesk.internal.ai")

// ErrEmptyModelOutput indicates the model returned nothing usable. Callers
// get this error instead of a nil dereference when the model comes back
// empty.
var ErrEmptyModelOutput = errors.New("ai: model returned empty output")

const (
	flowTemperature = 0.2
	flowMaxTokens   = 2048
)

// Flows bundles the named generative flows behind one model client. Flows
// are stateless between invocations; nothing is cached.
type Flows struct {
	llm      LLMClient
	validate *validator.Validate
	logger   *logging.Logger
	metrics  *metrics.AIMetrics
}

// FlowsOption customizes flow behavior.
type FlowsOption func(*Flows)

// WithMetrics wires flow invocation metrics.
func WithMetrics(m *metrics.AIMetrics) FlowsOption {
	return func(f *Flows) {
		f.metrics = m
	}
}

// NewFlows builds the flow set over the provided model client.
func NewFlows(llm LLMClient, logger *logging.Logger, opts ...FlowsOption) *Flows {
	if llm == nil {
		panic("ai: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	f := &Flows{
		llm:      llm,
		validate: validator.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SuggestDocumentTagsInput names a stored document and optionally attaches
// its content as a data URI.
type SuggestDocumentTagsInput struct {
	FileName     string `json:"fileName" validate:"required"`
	Description  string `json:"description,omitempty"`
	MediaDataURI string `json:"mediaDataURI,omitempty"`
}

type SuggestDocumentTagsOutput struct {
	Tags []string `json:"tags" validate:"required,dive,required"`
}

const suggestTagsSystem = `You are a medical records assistant for a clinic.
You classify patient documents with short lowercase tags such as "x-ray",
"lab-report", "prescription", "referral", "insurance", "consent-form".`

// SuggestDocumentTags proposes classification tags for a patient document.
func (f *Flows) SuggestDocumentTags(ctx context.Context, input SuggestDocumentTagsInput) (SuggestDocumentTagsOutput, error) {
	var out SuggestDocumentTagsOutput
	if err := f.validate.Struct(input); err != nil {
		return out, fmt.Errorf("ai: invalid suggestDocumentTags input: %w", err)
	}

	var media []MediaPart
	if input.MediaDataURI != "" {
		part, err := ParseDataURI(input.MediaDataURI)
		if err != nil {
			return out, fmt.Errorf("ai: invalid suggestDocumentTags input: %w", err)
		}
		media = append(media, part)
	}

	prompt := fmt.Sprintf(
		"Suggest tags for the document %q.", input.FileName)
	if input.Description != "" {
		prompt += fmt.Sprintf(" The uploader described it as: %q.", input.Description)
	}
	if len(media) > 0 {
		prompt += " The document content is attached."
	}
	prompt += ` Respond as JSON: {"tags": ["tag", ...]}.`

	err := f.run(ctx, "suggestDocumentTags", suggestTagsSystem, prompt, media, &out)
	return out, err
}

// TranscribeConsultationInput carries recorded consultation audio as a data URI.
type TranscribeConsultationInput struct {
	AudioDataURI string `json:"audioDataURI" validate:"required"`
}

type TranscribeConsultationOutput struct {
	Transcript string `json:"transcript" validate:"required"`
}

const transcribeSystem = `You transcribe clinical consultation recordings.
Write exactly what was said, in plain text, without commentary.`

// TranscribeConsultation turns consultation audio into a text transcript.
func (f *Flows) TranscribeConsultation(ctx context.Context, input TranscribeConsultationInput) (TranscribeConsultationOutput, error) {
	var out TranscribeConsultationOutput
	if err := f.validate.Struct(input); err != nil {
		return out, fmt.Errorf("ai: invalid transcribeConsultation input: %w", err)
	}

	part, err := ParseDataURI(input.AudioDataURI)
	if err != nil {
		return out, fmt.Errorf("ai: invalid transcribeConsultation input: %w", err)
	}

	prompt := `Transcribe the attached consultation audio. Respond as JSON: {"transcript": "..."}.`

	err = f.run(ctx, "transcribeConsultation", transcribeSystem, prompt, []MediaPart{part}, &out)
	return out, err
}

// SuggestDiagnosisInput describes the patient presentation.
type SuggestDiagnosisInput struct {
	Symptoms       string `json:"symptoms" validate:"required"`
	MedicalHistory string `json:"medicalHistory,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type SuggestedCondition struct {
	Name       string  `json:"name" validate:"required"`
	Rationale  string  `json:"rationale" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type SuggestDiagnosisOutput struct {
	Conditions []SuggestedCondition `json:"conditions" validate:"required,min=1,dive"`
	Disclaimer string               `json:"disclaimer" validate:"required"`
}

const diagnosisSystem = `You are a clinical decision support assistant. You
suggest possible conditions for a doctor to consider. You are not a doctor
and you always include a disclaimer that suggestions require professional
review.`

// SuggestDiagnosis proposes conditions for a doctor to consider.
func (f *Flows) SuggestDiagnosis(ctx context.Context, input SuggestDiagnosisInput) (SuggestDiagnosisOutput, error) {
	var out SuggestDiagnosisOutput
	if err := f.validate.Struct(input); err != nil {
		return out, fmt.Errorf("ai: invalid suggestDiagnosis input: %w", err)
	}

	prompt := fmt.Sprintf("Symptoms: %s.", input.Symptoms)
	if input.MedicalHistory != "" {
		prompt += fmt.Sprintf(" Medical history: %s.", input.MedicalHistory)
	}
	if input.Notes != "" {
		prompt += fmt.Sprintf(" Notes: %s.", input.Notes)
	}
	prompt += ` Respond as JSON: {"conditions": [{"name": "...", "rationale": "...", "confidence": 0.0}], "disclaimer": "..."}.`

	err := f.run(ctx, "suggestDiagnosis", diagnosisSystem, prompt, nil, &out)
	return out, err
}

func (f *Flows) run(ctx context.Context, flowName, system, prompt string, media []MediaPart, out any) error {
	ctx, span := flowTracer.Start(ctx, "ai.flow."+flowName)
	defer span.End()

	started := time.Now()
	status := "ok"
	defer func() {
		f.metrics.ObserveFlow(flowName, status, time.Since(started).Seconds())
	}()

	resp, err := f.llm.Complete(ctx, LLMRequest{
		System:      []string{system},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		Media:       media,
		MaxTokens:   flowMaxTokens,
		Temperature: flowTemperature,
		JSONOutput:  true,
	})

	latency := time.Since(started)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("clinicdesk.ai.flow", flowName),
			attribute.Float64("clinicdesk.ai.latency_ms", float64(latency.Milliseconds())),
			attribute.Int("clinicdesk.ai.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("clinicdesk.ai.output_tokens", int(resp.Usage.OutputTokens)),
		)
	}
	if err != nil {
		status = "error"
		return fmt.Errorf("ai: %s model call failed: %w", flowName, err)
	}

	jsonText := extractJSON(resp.Text)
	if jsonText == "" {
		status = "empty"
		f.logger.Warn("model returned no structured output", "flow", flowName, "stop_reason", resp.StopReason)
		return ErrEmptyModelOutput
	}

	if err := json.Unmarshal([]byte(jsonText), out); err != nil {
		status = "error"
		return fmt.Errorf("ai: %s output parse failed: %w", flowName, err)
	}
	if err := f.validate.Struct(out); err != nil {
		status = "error"
		return fmt.Errorf("ai: %s output failed validation: %w", flowName, err)
	}

	f.logger.Debug("flow completed",
		"flow", flowName,
		"latency_ms", latency.Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return nil
}

// extractJSON strips markdown fences and surrounding prose from model text,
// returning the first JSON object or empty string.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		return raw
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}
