package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type failingQueue struct{}

func (failingQueue) Send(context.Context, string) error { return errors.New("queue down") }
func (failingQueue) Receive(context.Context, int, int) ([]queueMessage, error) {
	return nil, errors.New("queue down")
}
func (failingQueue) Delete(context.Context, string) error { return nil }

type fakeOpRecorder struct {
	mu   sync.Mutex
	ops  map[string]*OpRecord
	seen []string
}

func (f *fakeOpRecorder) PutPending(_ context.Context, op *OpRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ops == nil {
		f.ops = make(map[string]*OpRecord)
	}
	op.Status = OpStatusPending
	f.ops[op.OpID] = op
	f.seen = append(f.seen, op.OpID)
	return nil
}

func (f *fakeOpRecorder) GetOp(_ context.Context, opID string) (*OpRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[opID]
	if !ok {
		return nil, ErrOpNotFound
	}
	return op, nil
}

func (f *fakeOpRecorder) MarkFailed(_ context.Context, opID string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[opID]
	if !ok {
		return ErrOpNotFound
	}
	op.Status = OpStatusFailed
	op.ErrorMessage = errMsg
	return nil
}

func (f *fakeOpRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *fakeOpRecorder) statusOf(opID string) OpStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op, ok := f.ops[opID]; ok {
		return op.Status
	}
	return ""
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func waitEvent(t *testing.T, ch <-chan events.StoreErrorV1) events.StoreErrorV1 {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event")
		return events.StoreErrorV1{}
	}
}

func TestCreateAutoReturnsImmediately(t *testing.T) {
	queue := NewMemoryQueue(8)
	relay := events.NewRelay()
	defer relay.Close()
	w := NewWriter(queue, relay, logging.Default())

	// No worker is draining the queue, so nothing has committed yet.
	done := make(chan Handle, 1)
	go func() {
		done <- w.CreateAuto(context.Background(), records.CollectionPatients, map[string]any{
			"firstName": "Ada",
		})
	}()

	var handle Handle
	select {
	case handle = <-done:
	case <-time.After(time.Second):
		t.Fatal("CreateAuto did not return before commit")
	}

	if handle.OpID == "" {
		t.Error("expected op ID on handle")
	}
	if handle.DocID == "" {
		t.Error("expected generated doc ID on handle")
	}
	if handle.Path() != records.CollectionPatients+"/"+handle.DocID {
		t.Errorf("unexpected handle path %q", handle.Path())
	}
}

func TestCreateAutoMergesIDIntoBody(t *testing.T) {
	queue := NewMemoryQueue(8)
	relay := events.NewRelay()
	defer relay.Close()
	w := NewWriter(queue, relay, logging.Default())

	handle := w.CreateAuto(context.Background(), records.CollectionPatients, map[string]any{
		"firstName": "Ada",
	})

	msgs, err := queue.Receive(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued op, got %d", len(msgs))
	}

	var payload opPayload
	if err := json.Unmarshal([]byte(msgs[0].Body), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.OpID != handle.OpID {
		t.Errorf("expected op ID %q, got %q", handle.OpID, payload.OpID)
	}
	if payload.Kind != events.OpCreate {
		t.Errorf("expected create op, got %q", payload.Kind)
	}

	var body map[string]any
	if err := json.Unmarshal(payload.Data, &body); err != nil {
		t.Fatal(err)
	}
	if body["id"] != handle.DocID {
		t.Errorf("expected id %q merged into body, got %v", handle.DocID, body["id"])
	}
	if body["firstName"] != "Ada" {
		t.Errorf("expected caller fields preserved, got %v", body["firstName"])
	}
}

func TestCreateAutoDoesNotMutateCallerMap(t *testing.T) {
	queue := NewMemoryQueue(8)
	relay := events.NewRelay()
	defer relay.Close()
	w := NewWriter(queue, relay, logging.Default())

	doc := map[string]any{"firstName": "Ada"}
	w.CreateAuto(context.Background(), records.CollectionPatients, doc)

	if _, ok := doc["id"]; ok {
		t.Error("expected caller map to stay untouched")
	}
}

func TestEnqueueFailurePublishesRelayEvent(t *testing.T) {
	relay := events.NewRelay()
	defer relay.Close()
	w := NewWriter(failingQueue{}, relay, logging.Default())

	ch, cancel := relay.Subscribe(4)
	defer cancel()

	handle := w.Set(context.Background(), records.CollectionInvoices, "inv-1", map[string]any{
		"status": "unpaid",
	})

	ev := waitEvent(t, ch)
	if ev.OpID != handle.OpID {
		t.Errorf("expected op ID %q, got %q", handle.OpID, ev.OpID)
	}
	if ev.Path != records.CollectionInvoices+"/inv-1" {
		t.Errorf("unexpected path %q", ev.Path)
	}
	if ev.Op != events.OpSet {
		t.Errorf("expected set op, got %q", ev.Op)
	}
	if ev.Code != events.CodeUnavailable {
		t.Errorf("expected unavailable code, got %q", ev.Code)
	}
}

func TestEnqueueFailureMarksOpFailed(t *testing.T) {
	relay := events.NewRelay()
	defer relay.Close()
	recorder := &fakeOpRecorder{}
	w := NewWriter(failingQueue{}, relay, logging.Default(), WithOpRecorder(recorder))

	ch, cancel := relay.Subscribe(4)
	defer cancel()

	handle := w.CreateAuto(context.Background(), records.CollectionPatients, map[string]any{
		"firstName": "Ada",
	})

	ev := waitEvent(t, ch)
	if ev.OpID != handle.OpID {
		t.Fatalf("expected op ID %q on relay event, got %q", handle.OpID, ev.OpID)
	}
	if got := recorder.statusOf(handle.OpID); got != OpStatusFailed {
		t.Errorf("expected op marked failed after send failure, got %q", got)
	}
	op, err := recorder.GetOp(context.Background(), handle.OpID)
	if err != nil {
		t.Fatal(err)
	}
	if op.ErrorMessage == "" {
		t.Error("expected failure reason on the op record")
	}
}

func TestWriterRecordsPendingOps(t *testing.T) {
	queue := NewMemoryQueue(8)
	relay := events.NewRelay()
	defer relay.Close()
	recorder := &fakeOpRecorder{}
	w := NewWriter(queue, relay, logging.Default(), WithOpRecorder(recorder))

	w.Patch(context.Background(), records.CollectionAppointments, "a1", map[string]any{
		"status": "completed",
	})
	if recorder.count() != 1 {
		t.Fatalf("expected 1 pending op, got %d", recorder.count())
	}

	w.Delete(context.Background(), records.CollectionAppointments, "a1", WithoutOpTracking())
	if recorder.count() != 1 {
		t.Fatalf("expected untracked op to skip the recorder, got %d", recorder.count())
	}
}
