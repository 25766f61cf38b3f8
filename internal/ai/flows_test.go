package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type fakeLLM struct {
	calls    atomic.Int64
	lastReq  LLMRequest
	response LLMResponse
	err      error
}

func (f *fakeLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.err != nil {
		return LLMResponse{}, f.err
	}
	return f.response, nil
}

func TestSuggestDocumentTagsParsesOutput(t *testing.T) {
	llm := &fakeLLM{response: LLMResponse{Text: `{"tags": ["x-ray", "lab-report"]}`}}
	flows := NewFlows(llm, logging.Default())

	out, err := flows.SuggestDocumentTags(context.Background(), SuggestDocumentTagsInput{
		FileName:    "chest-scan.png",
		Description: "chest x-ray from radiology",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Tags) != 2 || out.Tags[0] != "x-ray" {
		t.Fatalf("unexpected tags %v", out.Tags)
	}
	if !llm.lastReq.JSONOutput {
		t.Error("expected JSON output requested from the model")
	}
}

func TestSuggestDocumentTagsAttachesMedia(t *testing.T) {
	llm := &fakeLLM{response: LLMResponse{Text: `{"tags": ["x-ray"]}`}}
	flows := NewFlows(llm, logging.Default())

	_, err := flows.SuggestDocumentTags(context.Background(), SuggestDocumentTagsInput{
		FileName:     "scan.png",
		MediaDataURI: "data:image/png;base64,aGVsbG8=",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(llm.lastReq.Media) != 1 {
		t.Fatalf("expected 1 media part, got %d", len(llm.lastReq.Media))
	}
	if llm.lastReq.Media[0].MIMEType != "image/png" {
		t.Errorf("unexpected media type %q", llm.lastReq.Media[0].MIMEType)
	}
	if string(llm.lastReq.Media[0].Data) != "hello" {
		t.Errorf("unexpected media payload %q", llm.lastReq.Media[0].Data)
	}
}

func TestInvalidInputNeverCallsModel(t *testing.T) {
	llm := &fakeLLM{}
	flows := NewFlows(llm, logging.Default())

	if _, err := flows.SuggestDocumentTags(context.Background(), SuggestDocumentTagsInput{}); err == nil {
		t.Fatal("expected validation error for missing file name")
	}
	if _, err := flows.TranscribeConsultation(context.Background(), TranscribeConsultationInput{}); err == nil {
		t.Fatal("expected validation error for missing audio")
	}
	if _, err := flows.SuggestDiagnosis(context.Background(), SuggestDiagnosisInput{}); err == nil {
		t.Fatal("expected validation error for missing symptoms")
	}
	if n := llm.calls.Load(); n != 0 {
		t.Fatalf("expected 0 model calls, got %d", n)
	}
}

func TestEmptyModelOutputIsTypedError(t *testing.T) {
	llm := &fakeLLM{response: LLMResponse{Text: ""}}
	flows := NewFlows(llm, logging.Default())

	_, err := flows.SuggestDiagnosis(context.Background(), SuggestDiagnosisInput{Symptoms: "fever"})
	if !errors.Is(err, ErrEmptyModelOutput) {
		t.Fatalf("expected ErrEmptyModelOutput, got %v", err)
	}
}

func TestFencedModelOutputIsParsed(t *testing.T) {
	llm := &fakeLLM{response: LLMResponse{
		Text: "```json\n{\"transcript\": \"patient reports mild headache\"}\n```",
	}}
	flows := NewFlows(llm, logging.Default())

	out, err := flows.TranscribeConsultation(context.Background(), TranscribeConsultationInput{
		AudioDataURI: "data:audio/mp3;base64,aGVsbG8=",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Transcript != "patient reports mild headache" {
		t.Fatalf("unexpected transcript %q", out.Transcript)
	}
}

func TestSuggestDiagnosisValidatesOutput(t *testing.T) {
	llm := &fakeLLM{response: LLMResponse{Text: `{"conditions": [], "disclaimer": "see a doctor"}`}}
	flows := NewFlows(llm, logging.Default())

	_, err := flows.SuggestDiagnosis(context.Background(), SuggestDiagnosisInput{Symptoms: "fever"})
	if err == nil {
		t.Fatal("expected output validation error for empty conditions")
	}
}

func TestModelFailurePropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model unavailable")}
	flows := NewFlows(llm, logging.Default())

	_, err := flows.SuggestDiagnosis(context.Background(), SuggestDiagnosisInput{Symptoms: "fever"})
	if err == nil {
		t.Fatal("expected model error to propagate")
	}
}
