// llmtest exercises the configured AI provider from the command line. Handy
// for checking credentials and model ids before deploying.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mwilkes/clinicdesk/cmd/mainconfig"
	"github.com/mwilkes/clinicdesk/internal/ai"
	"github.com/mwilkes/clinicdesk/internal/app/bootstrap"
	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	client, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		log.Fatalf("build llm client: %v", err)
	}
	if client == nil {
		log.Fatal("no AI provider configured; set AI_PROVIDER and its credentials")
	}

	flows := ai.NewFlows(client, logger)

	fmt.Printf("Provider: %s\n\n", cfg.AIProvider)

	fmt.Println("[1] suggestDocumentTags")
	start := time.Now()
	tags, err := flows.SuggestDocumentTags(ctx, ai.SuggestDocumentTagsInput{
		FileName:    "wrist-xray-2026-03.png",
		Description: "Left wrist x-ray after a fall",
	})
	report(err, start)
	if err == nil {
		fmt.Printf("    tags: %v\n", tags.Tags)
	}

	fmt.Println("[2] suggestDiagnosis")
	start = time.Now()
	diag, err := flows.SuggestDiagnosis(ctx, ai.SuggestDiagnosisInput{
		Symptoms:       "wrist pain and swelling after a fall onto an outstretched hand",
		MedicalHistory: "no prior fractures",
	})
	report(err, start)
	if err == nil {
		for _, c := range diag.Conditions {
			fmt.Printf("    %s (%.2f): %s\n", c.Name, c.Confidence, c.Rationale)
		}
	}

	if err != nil {
		os.Exit(1)
	}
}

func report(err error, start time.Time) {
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Printf("    error after %v: %v\n", elapsed, err)
		return
	}
	fmt.Printf("    ok in %v\n", elapsed)
}
