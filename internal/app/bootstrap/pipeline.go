package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/observability/metrics"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const memoryQueueBuffer = 256

// BuildWritePipeline assembles the non-blocking write path: the enqueue side
// (Writer), the commit side (Worker), and the op status store consulted by
// GET /ops. The queue is SQS when a URL is configured, otherwise in-memory.
func BuildWritePipeline(
	cfg *appconfig.Config,
	awsCfg aws.Config,
	store records.Store,
	bus livequery.Bus,
	relay *events.Relay,
	m *metrics.WriterMetrics,
	logger *logging.Logger,
) (*writer.Writer, *writer.Worker, *writer.OpStore) {
	if logger == nil {
		logger = logging.Default()
	}

	var ops *writer.OpStore
	if cfg.WriteOpsTable != "" && !cfg.UseMemoryQueue {
		ops = writer.NewOpStore(dynamodb.NewFromConfig(awsCfg), cfg.WriteOpsTable, logger)
	}

	var writerOpts []writer.WriterOption
	if ops != nil {
		writerOpts = append(writerOpts, writer.WithOpRecorder(ops))
	}

	workerOpts := []writer.WorkerOption{writer.WithWorkerCount(cfg.WorkerCount)}
	if ops != nil {
		workerOpts = append(workerOpts, writer.WithOpUpdater(ops))
	}
	if m != nil {
		workerOpts = append(workerOpts, writer.WithWorkerMetrics(m))
	}

	if cfg.UseMemoryQueue || cfg.WriteQueueURL == "" {
		logger.Warn("no write queue configured; using in-memory queue")
		queue := writer.NewMemoryQueue(memoryQueueBuffer)
		w := writer.NewWriter(queue, relay, logger, writerOpts...)
		worker := writer.NewWorker(store, queue, bus, relay, logger, workerOpts...)
		return w, worker, ops
	}

	queue := writer.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.WriteQueueURL)
	w := writer.NewWriter(queue, relay, logger, writerOpts...)
	worker := writer.NewWorker(store, queue, bus, relay, logger, workerOpts...)
	return w, worker, ops
}
