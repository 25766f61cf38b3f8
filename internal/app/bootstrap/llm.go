package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/mwilkes/clinicdesk/internal/ai"
	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// BuildLLMClient selects the generative model backing the AI flows. A nil
// client (with nil error) means flows are disabled; the AI routes then return
// service-unavailable instead of failing startup.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (ai.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.AIProvider {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			logger.Warn("gemini selected but no API key set; AI flows disabled")
			return nil, nil
		}
		client, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		logger.Info("AI flows using gemini", "model", cfg.GeminiModelID)
		return client, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			logger.Warn("bedrock selected but no model id set; AI flows disabled")
			return nil, nil
		}
		client := ai.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		logger.Info("AI flows using bedrock", "model", cfg.BedrockModelID)
		return client, nil
	case "":
		return nil, nil
	default:
		logger.Warn("unknown AI provider; AI flows disabled", "provider", cfg.AIProvider)
		return nil, nil
	}
}
