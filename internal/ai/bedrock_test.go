package ai

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type fakeConverse struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeConverse) Converse(_ context.Context, input *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: text},
				},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(10),
			OutputTokens: aws.Int32(5),
			TotalTokens:  aws.Int32(15),
		},
	}
}

func TestBedrockCompleteExtractsText(t *testing.T) {
	api := &fakeConverse{output: textOutput(`{"tags": ["x-ray"]}`)}
	client := NewBedrockClient(api, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "tag this"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != `{"tags": ["x-ray"]}` {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if aws.ToString(api.input.ModelId) != "anthropic.claude-3-haiku" {
		t.Errorf("unexpected model id %v", api.input.ModelId)
	}
}

func TestBedrockCompleteAttachesImageMedia(t *testing.T) {
	api := &fakeConverse{output: textOutput("ok")}
	client := NewBedrockClient(api, "model-id")

	_, err := client.Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "describe"}},
		Media:    []MediaPart{{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	blocks := api.input.Messages[0].Content
	if len(blocks) != 2 {
		t.Fatalf("expected text + image blocks, got %d", len(blocks))
	}
	img, ok := blocks[1].(*brtypes.ContentBlockMemberImage)
	if !ok {
		t.Fatalf("expected image block, got %T", blocks[1])
	}
	if img.Value.Format != brtypes.ImageFormatPng {
		t.Errorf("unexpected image format %v", img.Value.Format)
	}
}

func TestBedrockCompleteRejectsUnsupportedMedia(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{output: textOutput("ok")}, "model-id")

	_, err := client.Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "transcribe"}},
		Media:    []MediaPart{{MIMEType: "audio/mp3", Data: []byte{1}}},
	})
	if err == nil {
		t.Fatal("expected error for unsupported media type")
	}
}

func TestBedrockCompleteRequiresModelID(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{}, "")

	_, err := client.Complete(context.Background(), LLMRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for missing model id")
	}
}
