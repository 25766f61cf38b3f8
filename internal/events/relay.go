package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Relay fans structured write-failure events out to registered listeners.
// It is purely in-memory: events published with no listeners are dropped,
// and nothing survives a restart. Listeners that fall behind lose events
// rather than blocking publishers.
type Relay struct {
	mu     sync.RWMutex
	subs   map[uint64]chan StoreErrorV1
	nextID uint64
	closed bool
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{
		subs: make(map[uint64]chan StoreErrorV1),
	}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel is idempotent and closes the channel.
func (r *Relay) Subscribe(buffer int) (<-chan StoreErrorV1, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan StoreErrorV1, buffer)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers evt to every current listener without blocking. Missing
// event id and timestamp are filled in.
func (r *Relay) Publish(evt StoreErrorV1) {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
			// Listener buffer full; drop rather than stall the writer path.
		}
	}
}

// ListenerCount reports the number of active listeners.
func (r *Relay) ListenerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close detaches and closes all listener channels. Further publishes are
// discarded and further subscribes return closed channels.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
