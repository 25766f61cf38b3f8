// Package livequery delivers reactive snapshots of record collections to
// subscribers. Each distinct query is backed by a single feed that refetches
// on change notifications; subscribers of the same query share the feed, so
// a reference-stable query never causes duplicate reads.
package livequery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/observability/metrics"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// Snapshot is one consistent view of a query's results. Document bodies
// carry their identifiers merged in.
type Snapshot struct {
	Docs []json.RawMessage
	Err  error
}

// Subscription receives snapshots for one query. A nil-query subscription is
// resolved: its channel is already closed, no data, no error, and the store
// was never touched.
type Subscription struct {
	ch       chan Snapshot
	resolved bool
	cancel   func()
}

// Snapshots returns the delivery channel. Delivery within a subscription is
// monotonic; a slow consumer observes the latest snapshot, not a backlog.
func (s *Subscription) Snapshots() <-chan Snapshot { return s.ch }

// Resolved reports whether this subscription was created from a nil query
// and will never produce data.
func (s *Subscription) Resolved() bool { return s.resolved }

// Close synchronously detaches the subscription from its feed.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscription) push(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		// Buffer full: discard the stale pending snapshot and retry.
		select {
		case <-s.ch:
		default:
		}
	}
}

// Hub multiplexes live queries over a shared store and change bus.
type Hub struct {
	store   records.Store
	bus     Bus
	relay   *events.Relay
	logger  *logging.Logger
	metrics *metrics.LiveQueryMetrics

	mu        sync.Mutex
	feeds     map[string]*feed
	busCancel func()
	closed    bool
}

// HubOption customizes hub construction.
type HubOption func(*Hub)

// WithHubMetrics wires feed gauge and snapshot latency observation.
func WithHubMetrics(m *metrics.LiveQueryMetrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

func NewHub(store records.Store, bus Bus, relay *events.Relay, logger *logging.Logger, opts ...HubOption) *Hub {
	if store == nil {
		panic("livequery: store required")
	}
	if bus == nil {
		bus = NewMemoryBus()
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Hub{
		store:  store,
		bus:    bus,
		relay:  relay,
		logger: logger,
		feeds:  make(map[string]*feed),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins consuming change notifications. It returns once the bus
// subscription is established; dispatch continues until ctx is done or the
// hub is closed.
func (h *Hub) Start(ctx context.Context) error {
	changes, cancel, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.busCancel = cancel
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				h.dispatch(change)
			}
		}
	}()
	return nil
}

func (h *Hub) dispatch(change Change) {
	h.mu.Lock()
	var affected []*feed
	for _, f := range h.feeds {
		if f.query.Collection == change.Collection {
			affected = append(affected, f)
		}
	}
	h.mu.Unlock()

	for _, f := range affected {
		f.signal()
	}
}

// Subscribe attaches to the feed for q, creating it on first use. A nil q
// yields an immediately-resolved empty subscription.
func (h *Hub) Subscribe(ctx context.Context, q *records.Query) *Subscription {
	if q == nil {
		ch := make(chan Snapshot)
		close(ch)
		return &Subscription{ch: ch, resolved: true}
	}

	key := q.Key()

	for {
		h.mu.Lock()
		f, ok := h.feeds[key]
		if !ok {
			f = newFeed(*q, key, h)
			h.feeds[key] = f
			go f.run()
		}
		active := len(h.feeds)
		h.mu.Unlock()
		h.setActiveFeeds(active)

		sub, ok := f.attach()
		if !ok {
			// The feed's last subscriber detached between the map lookup
			// and attach; the next pass creates a fresh feed.
			continue
		}

		// Detach when the subscriber's context ends.
		if ctx != nil && ctx.Done() != nil {
			go func() {
				<-ctx.Done()
				sub.Close()
			}()
		}
		return sub
	}
}

// FeedCount reports the number of distinct active feeds.
func (h *Hub) FeedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

func (h *Hub) dropFeed(key string) {
	h.mu.Lock()
	var stopped *feed
	if f, ok := h.feeds[key]; ok && f.tryStop() {
		delete(h.feeds, key)
		stopped = f
	}
	active := len(h.feeds)
	h.mu.Unlock()

	if stopped != nil {
		stopped.stop()
	}
	h.setActiveFeeds(active)
}

func (h *Hub) setActiveFeeds(n int) {
	if h.metrics != nil {
		h.metrics.SetActiveFeeds(n)
	}
}

// Close stops the bus subscription and tears down all feeds.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	cancel := h.busCancel
	feeds := h.feeds
	h.feeds = make(map[string]*feed)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, f := range feeds {
		f.stop()
	}
	h.setActiveFeeds(0)
}

// feed owns one query: a single goroutine fetches and delivers snapshots so
// per-subscription ordering is monotonic.
type feed struct {
	query records.Query
	key   string
	hub   *Hub

	refresh  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	last    *Snapshot
	stopped bool
}

func newFeed(q records.Query, key string, hub *Hub) *feed {
	f := &feed{
		query:   q,
		key:     key,
		hub:     hub,
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		subs:    make(map[uint64]*Subscription),
	}
	f.signal() // initial fetch
	return f
}

func (f *feed) signal() {
	select {
	case f.refresh <- struct{}{}:
	default:
		// A refresh is already pending; coalesce.
	}
}

func (f *feed) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.refresh:
			started := time.Now()
			snap := f.fetch()
			f.observeSnapshot(snap, started)
			f.deliver(snap)
		}
	}
}

func (f *feed) fetch() Snapshot {
	ctx := context.Background()

	if f.query.DocID != "" {
		doc, err := f.hub.store.Get(ctx, f.query.Collection, f.query.DocID)
		if err != nil {
			if errors.Is(err, records.ErrNotFound) {
				// A missing document is an empty snapshot, not an error.
				return Snapshot{}
			}
			f.reportError(events.OpGet, err)
			return Snapshot{Err: err}
		}
		merged, err := doc.Merged()
		if err != nil {
			return Snapshot{Err: err}
		}
		return Snapshot{Docs: []json.RawMessage{merged}}
	}

	docs, err := f.hub.store.List(ctx, f.query)
	if err != nil {
		f.reportError(events.OpList, err)
		return Snapshot{Err: err}
	}
	bodies := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		merged, err := doc.Merged()
		if err != nil {
			f.hub.logger.Warn("skipping malformed record", "collection", f.query.Collection, "id", doc.ID, "error", err)
			continue
		}
		bodies = append(bodies, merged)
	}
	return Snapshot{Docs: bodies}
}

func (f *feed) observeSnapshot(snap Snapshot, started time.Time) {
	if f.hub.metrics == nil {
		return
	}
	result := "ok"
	if snap.Err != nil {
		result = "error"
	}
	f.hub.metrics.ObserveSnapshot(result, time.Since(started).Seconds())
}

func (f *feed) reportError(op string, err error) {
	if f.hub.relay == nil {
		return
	}
	path := f.query.Collection
	if f.query.DocID != "" {
		path += "/" + f.query.DocID
	}
	f.hub.relay.Publish(events.StoreErrorV1{
		Path:    path,
		Op:      op,
		Code:    events.ClassifyStoreError(err),
		Message: err.Error(),
	})
}

func (f *feed) deliver(snap Snapshot) {
	f.mu.Lock()
	f.last = &snap
	subs := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.push(snap)
	}
}

// attach registers a new subscription. It reports false when the feed was
// already torn down, in which case the caller must start over with a fresh
// feed.
func (f *feed) attach() (*Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return nil, false
	}

	id := f.nextID
	f.nextID++

	sub := &Subscription{ch: make(chan Snapshot, 4)}
	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			f.detach(id)
		})
	}
	f.subs[id] = sub

	if f.last != nil {
		sub.push(*f.last)
	}
	return sub, true
}

func (f *feed) detach(id uint64) {
	f.mu.Lock()
	delete(f.subs, id)
	empty := len(f.subs) == 0
	f.mu.Unlock()

	if empty {
		f.hub.dropFeed(f.key)
	}
}

// tryStop marks the feed stopped when it has no subscribers. The mark and
// the subscriber check share f.mu with attach, so a racing attach either
// lands before the mark (and keeps the feed alive) or observes it and
// retries on a fresh feed.
func (f *feed) tryStop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || len(f.subs) > 0 {
		return false
	}
	f.stopped = true
	return true
}

func (f *feed) stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.done) })
}
