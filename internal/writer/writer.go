// Package writer queues record mutations so callers never wait on the
// store. Every write returns a Handle immediately; the worker pool applies
// ops in the background, announces committed changes on the livequery bus,
// and reports failures on the error relay.
package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// Handle identifies a queued write. It is returned before the op commits,
// so the document it names may not be readable yet.
type Handle struct {
	OpID       string
	Collection string
	DocID      string
}

// Path returns the collection-scoped document path.
func (h Handle) Path() string {
	return h.Collection + "/" + h.DocID
}

// Writer enqueues mutations for asynchronous application.
type Writer struct {
	queue  queueClient
	ops    OpRecorder
	relay  *events.Relay
	logger *logging.Logger
}

// WriterOption customizes writer behavior.
type WriterOption func(*Writer)

// WithOpRecorder wires an op status store so callers can poll queued writes.
func WithOpRecorder(ops OpRecorder) WriterOption {
	return func(w *Writer) {
		w.ops = ops
	}
}

// NewWriter builds a non-blocking write front end over the provided queue.
func NewWriter(queue queueClient, relay *events.Relay, logger *logging.Logger, opts ...WriterOption) *Writer {
	if queue == nil {
		panic("writer: queue cannot be nil")
	}
	if relay == nil {
		panic("writer: relay cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	w := &Writer{
		queue:  queue,
		relay:  relay,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateAuto queues a document insert under a generated ID and returns its
// handle immediately. The generated ID is duplicated into the document body.
func (w *Writer) CreateAuto(ctx context.Context, collection string, doc map[string]any, opts ...EnqueueOption) Handle {
	docID := uuid.NewString()
	return w.enqueueBody(ctx, collection, docID, events.OpCreate, doc, opts)
}

// Set queues a full document write at a known ID.
func (w *Writer) Set(ctx context.Context, collection, docID string, doc map[string]any, opts ...EnqueueOption) Handle {
	return w.enqueueBody(ctx, collection, docID, events.OpSet, doc, opts)
}

// Patch queues a shallow field merge into an existing document.
func (w *Writer) Patch(ctx context.Context, collection, docID string, fields map[string]any, opts ...EnqueueOption) Handle {
	payload := opPayload{
		Collection:  collection,
		DocID:       docID,
		Kind:        events.OpPatch,
		Fields:      fields,
		TrackStatus: true,
	}
	return w.enqueue(ctx, payload, opts)
}

// Delete queues a document removal. Deleting an absent document is not an
// error.
func (w *Writer) Delete(ctx context.Context, collection, docID string, opts ...EnqueueOption) Handle {
	payload := opPayload{
		Collection:  collection,
		DocID:       docID,
		Kind:        events.OpDelete,
		TrackStatus: true,
	}
	return w.enqueue(ctx, payload, opts)
}

func (w *Writer) enqueueBody(ctx context.Context, collection, docID, kind string, doc map[string]any, opts []EnqueueOption) Handle {
	body := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	body["id"] = docID

	payload := opPayload{
		Collection:  collection,
		DocID:       docID,
		Kind:        kind,
		TrackStatus: true,
	}

	data, err := json.Marshal(body)
	if err != nil {
		handle := Handle{OpID: uuid.NewString(), Collection: collection, DocID: docID}
		w.reportFailure(handle, kind, events.CodeInvalidArgument, fmt.Errorf("writer: failed to encode document: %w", err))
		return handle
	}
	payload.Data = data

	return w.enqueue(ctx, payload, opts)
}

func (w *Writer) enqueue(ctx context.Context, payload opPayload, opts []EnqueueOption) Handle {
	for _, opt := range opts {
		opt(&payload)
	}

	payload, body, err := encodeOp(payload)
	if err != nil {
		handle := Handle{OpID: uuid.NewString(), Collection: payload.Collection, DocID: payload.DocID}
		w.reportFailure(handle, payload.Kind, events.CodeInvalidArgument, err)
		return handle
	}

	handle := Handle{OpID: payload.OpID, Collection: payload.Collection, DocID: payload.DocID}

	if payload.TrackStatus && w.ops != nil {
		rec := &OpRecord{
			OpID:       payload.OpID,
			Collection: payload.Collection,
			DocID:      payload.DocID,
			Kind:       payload.Kind,
		}
		if err := w.ops.PutPending(ctx, rec); err != nil {
			w.logger.Warn("failed to record pending op", "error", err, "op_id", payload.OpID)
		}
	}

	if err := w.queue.Send(ctx, body); err != nil {
		if payload.TrackStatus && w.ops != nil {
			if markErr := w.ops.MarkFailed(ctx, payload.OpID, err.Error()); markErr != nil {
				w.logger.Warn("failed to mark op failed", "error", markErr, "op_id", payload.OpID)
			}
		}
		w.reportFailure(handle, payload.Kind, events.CodeUnavailable, err)
		return handle
	}

	w.logger.Debug("write queued",
		"op_id", payload.OpID,
		"collection", payload.Collection,
		"doc_id", payload.DocID,
		"kind", payload.Kind,
	)
	return handle
}

func (w *Writer) reportFailure(handle Handle, kind, code string, err error) {
	w.logger.Error("failed to queue write",
		"error", err,
		"op_id", handle.OpID,
		"collection", handle.Collection,
		"doc_id", handle.DocID,
	)
	w.relay.Publish(events.StoreErrorV1{
		OpID:    handle.OpID,
		Path:    handle.Path(),
		Op:      kind,
		Code:    code,
		Message: err.Error(),
	})
}
