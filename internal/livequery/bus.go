package livequery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// Change announces that a document in a collection was written or removed.
// DocID may be empty when a whole collection was affected.
type Change struct {
	Collection string `json:"collection"`
	DocID      string `json:"doc_id,omitempty"`
	Op         string `json:"op"`
}

// Bus carries change notifications between writers and live-query hubs,
// fanning out across API instances when backed by redis.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context) (<-chan Change, func(), error)
}

// MemoryBus is an in-process Bus used in tests and when redis is unavailable.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Change
	nextID uint64
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]chan Change)}
}

// Publish never blocks on a slow subscriber: a full channel drops that
// subscriber's notification, matching the relay's delivery policy. A
// dropped change only delays convergence until the next change on the
// collection.
func (b *MemoryBus) Publish(_ context.Context, change Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Change, func(), error) {
	ch := make(chan Change, 64)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

const redisChangeChannel = "livequery:changes"

// RedisBus broadcasts changes over a redis pub/sub channel.
type RedisBus struct {
	client *redis.Client
	logger *logging.Logger
}

func NewRedisBus(client *redis.Client, logger *logging.Logger) *RedisBus {
	if client == nil {
		panic("livequery: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("livequery: marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, redisChangeChannel, payload).Err(); err != nil {
		return fmt.Errorf("livequery: publish change: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Change, func(), error) {
	pubsub := b.client.Subscribe(ctx, redisChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("livequery: subscribe: %w", err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.Warn("dropping malformed change notification", "error", err)
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}
