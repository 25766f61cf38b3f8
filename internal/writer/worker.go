package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/observability/metrics"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

var errUnknownOpKind = errors.New("writer: unknown op kind")

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	ops              OpUpdater
	metrics          *metrics.WriterMetrics
}

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the queue long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many ops to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithOpUpdater wires an op status store for terminal state transitions.
func WithOpUpdater(ops OpUpdater) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.ops = ops
	}
}

// WithWorkerMetrics wires op outcome counters and latency observation.
func WithWorkerMetrics(m *metrics.WriterMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// Worker drains the write queue and applies ops against the record store.
type Worker struct {
	store  records.Store
	queue  queueClient
	bus    livequery.Bus
	relay  *events.Relay
	ops    OpUpdater
	logger *logging.Logger
	cfg    workerConfig
	wg     sync.WaitGroup
}

// NewWorker constructs a queue consumer that commits ops to the store.
func NewWorker(store records.Store, queue queueClient, bus livequery.Bus, relay *events.Relay, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if store == nil {
		panic("writer: store cannot be nil")
	}
	if queue == nil {
		panic("writer: queue cannot be nil")
	}
	if relay == nil {
		panic("writer: relay cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		store:  store,
		queue:  queue,
		bus:    bus,
		relay:  relay,
		ops:    cfg.ops,
		logger: logger,
		cfg:    cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("write worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("write worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive write ops", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload opPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode write op", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	started := time.Now()
	err := w.apply(ctx, payload)
	if err != nil {
		w.observeOp(payload.Kind, "failed", started)
		w.reportFailure(ctx, payload, err)
	} else {
		w.observeOp(payload.Kind, "applied", started)
		w.reportApplied(ctx, payload)
	}

	// The op is terminal either way. Failed ops are not retried; the
	// caller already received the error on the relay.
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) apply(ctx context.Context, payload opPayload) error {
	switch payload.Kind {
	case events.OpCreate, events.OpSet:
		return w.store.Put(ctx, payload.Collection, payload.DocID, payload.Data)
	case events.OpPatch:
		return w.store.Patch(ctx, payload.Collection, payload.DocID, payload.Fields)
	case events.OpDelete:
		return w.store.Delete(ctx, payload.Collection, payload.DocID)
	default:
		return fmt.Errorf("%w: %q", errUnknownOpKind, payload.Kind)
	}
}

func (w *Worker) reportApplied(ctx context.Context, payload opPayload) {
	if w.bus != nil {
		change := livequery.Change{
			Collection: payload.Collection,
			DocID:      payload.DocID,
			Op:         payload.Kind,
		}
		if err := w.bus.Publish(ctx, change); err != nil {
			w.logger.Warn("failed to announce change",
				"error", err,
				"collection", payload.Collection,
				"doc_id", payload.DocID,
			)
		}
	}

	if payload.TrackStatus && w.ops != nil {
		if err := w.ops.MarkApplied(ctx, payload.OpID); err != nil {
			w.logger.Warn("failed to mark op applied", "error", err, "op_id", payload.OpID)
		}
	}

	w.logger.Debug("write applied",
		"op_id", payload.OpID,
		"collection", payload.Collection,
		"doc_id", payload.DocID,
		"kind", payload.Kind,
	)
}

func (w *Worker) reportFailure(ctx context.Context, payload opPayload, err error) {
	path := payload.Collection + "/" + payload.DocID

	w.logger.Error("write failed",
		"error", err,
		"op_id", payload.OpID,
		"path", path,
		"kind", payload.Kind,
	)

	code := events.ClassifyStoreError(err)
	if errors.Is(err, errUnknownOpKind) {
		code = events.CodeInvalidArgument
	}

	w.relay.Publish(events.StoreErrorV1{
		OpID:    payload.OpID,
		Path:    path,
		Op:      payload.Kind,
		Code:    code,
		Message: err.Error(),
	})

	if payload.TrackStatus && w.ops != nil {
		if markErr := w.ops.MarkFailed(ctx, payload.OpID, err.Error()); markErr != nil {
			w.logger.Warn("failed to mark op failed", "error", markErr, "op_id", payload.OpID)
		}
	}
}

func (w *Worker) observeOp(kind, status string, started time.Time) {
	if w.cfg.metrics == nil {
		return
	}
	w.cfg.metrics.ObserveOp(kind, status, time.Since(started).Seconds())
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Warn("failed to delete queue message", "error", err)
	}
}
