// The tagging lambda listens for S3 object-created events in the documents
// bucket and asks the AI flows for classification tags, saving them on the
// document record. Uploads stay fast; tagging happens after the fact.
package main

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mwilkes/clinicdesk/cmd/mainconfig"
	"github.com/mwilkes/clinicdesk/internal/ai"
	"github.com/mwilkes/clinicdesk/internal/app/bootstrap"
	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/internal/documents"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// Documents larger than this are tagged from metadata alone instead of
// attaching the content to the model call.
const maxInlineBytes = 8 << 20

type blobReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

type documentActions interface {
	GetByStoragePath(ctx context.Context, key string) (documents.PatientDocument, error)
	SaveTags(ctx context.Context, patientID, documentID string, tags []string) documents.ActionResult
}

type tagger interface {
	SuggestDocumentTags(ctx context.Context, input ai.SuggestDocumentTagsInput) (ai.SuggestDocumentTagsOutput, error)
}

type handler struct {
	actions documentActions
	blobs   blobReader
	flows   tagger
	logger  *logging.Logger
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.BuildPgxPool(ctx, cfg, logger)
	if err != nil || pool == nil {
		logger.Error("database is required", "error", err)
		os.Exit(1)
	}
	store := records.NewPostgresStore(pool)

	if cfg.DocumentsBucket == "" {
		logger.Error("DOCUMENTS_BUCKET is required")
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	bus := bootstrap.BuildLiveBus(redisClient, logger)
	blobs := documents.NewBlobStore(s3.NewFromConfig(awsCfg), cfg.DocumentsBucket, cfg.DocumentsBaseURL, logger)
	actions := documents.NewActions(store, blobs, bus, logger)

	llmClient, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}
	if llmClient == nil {
		logger.Error("an AI provider is required for the tagging lambda")
		os.Exit(1)
	}
	flows := ai.NewFlows(llmClient, logger)

	h := &handler{actions: actions, blobs: blobs, flows: flows, logger: logger}
	lambda.Start(h.handle)
}

func (h *handler) handle(ctx context.Context, evt awsevents.S3Event) error {
	for _, record := range evt.Records {
		if !strings.HasPrefix(record.EventName, "ObjectCreated") {
			continue
		}
		key := objectKey(record)
		if key == "" || strings.HasPrefix(key, "avatars/") {
			continue
		}
		if err := h.tagObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) tagObject(ctx context.Context, key string) error {
	doc, err := h.actions.GetByStoragePath(ctx, key)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			// The metadata write may still be in flight; the bucket
			// notification retry will find it.
			h.logger.Warn("no document record for object yet", "key", key)
			return err
		}
		return err
	}
	if len(doc.Tags) > 0 {
		h.logger.Debug("document already tagged", "document_id", doc.ID)
		return nil
	}

	input := ai.SuggestDocumentTagsInput{
		FileName:    doc.FileName,
		Description: doc.Description,
	}
	data, contentType, err := h.blobs.Get(ctx, key)
	if err != nil {
		h.logger.Warn("could not read blob; tagging from metadata only", "error", err, "key", key)
	} else if len(data) > 0 && len(data) <= maxInlineBytes && contentType != "" {
		input.MediaDataURI = ai.FormatDataURI(contentType, data)
	}

	out, err := h.flows.SuggestDocumentTags(ctx, input)
	if err != nil {
		// Model failures are logged, not retried: the doctor can still tag
		// by hand and a poison document must not block the event source.
		h.logger.Error("tag suggestion failed", "error", err, "document_id", doc.ID)
		return nil
	}

	result := h.actions.SaveTags(ctx, doc.PatientID, doc.ID, out.Tags)
	if !result.Success {
		h.logger.Error("failed to save tags", "error", result.Error, "document_id", doc.ID)
		return nil
	}
	h.logger.Info("document tagged", "document_id", doc.ID, "tags", out.Tags)
	return nil
}

// objectKey decodes the S3 event key, which arrives URL-encoded.
func objectKey(record awsevents.S3EventRecord) string {
	key := record.S3.Object.Key
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}
