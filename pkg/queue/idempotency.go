package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// IdempotencyStore records which message IDs have already been processed.
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	// Contains reports whether the message ID was already processed.
	Contains(ctx context.Context, id string) (bool, error)
	// Add marks a message ID as processed. It must be called only after
	// successful handling, so a failed attempt stays eligible for retry.
	Add(ctx context.Context, id string) error
}

// MemoryIdempotencyStore keeps processed message IDs in memory with a TTL.
// Entries survive only for the lifetime of the process, which is enough to
// absorb the redeliveries an at-least-once broker produces around restarts
// of the consumer group coordinator.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

const (
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyMaxSize = 100_000
)

// NewMemoryIdempotencyStore creates a store with the given TTL.
// A non-positive ttl falls back to 24 hours.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: defaultIdempotencyMaxSize,
	}
}

// Contains implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Contains(_ context.Context, id string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.seen[id]
	if !ok {
		return false, nil
	}
	if now.After(exp) {
		delete(s.seen, id)
		return false, nil
	}
	return true, nil
}

// Add implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Add(_ context.Context, id string) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.seen) >= s.maxSize {
		s.evictLocked(now)
	}
	s.seen[id] = now.Add(s.ttl)
	return nil
}

// Len returns the number of entries, including not yet swept expired ones.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// evictLocked drops expired entries, then the soonest-to-expire ones until
// the store is below maxSize, so an insert never grows the map past the
// bound even when nothing has expired yet. Caller must hold s.mu.
func (s *MemoryIdempotencyStore) evictLocked(now time.Time) {
	for id, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, id)
		}
	}
	if len(s.seen) < s.maxSize {
		return
	}

	type entry struct {
		id  string
		exp time.Time
	}
	entries := make([]entry, 0, len(s.seen))
	for id, exp := range s.seen {
		entries = append(entries, entry{id, exp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].exp.Before(entries[j].exp)
	})
	for i := 0; i <= len(entries)-s.maxSize; i++ {
		delete(s.seen, entries[i].id)
	}
}

// IdempotentHandler wraps a handler so that messages whose message_id header
// was already processed are acknowledged without reprocessing. The ID is
// recorded only after the handler succeeds, so retries of a failed attempt
// still reach the handler. Messages without a message_id header are always
// processed.
func IdempotentHandler(store IdempotencyStore, queue, group string, next Handler) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		id := MessageID(msg)
		if id == "" {
			return next(ctx, msg)
		}

		dup, err := store.Contains(ctx, id)
		if err != nil {
			// Fail open: at-least-once delivery means a duplicate send is
			// preferable to losing the message.
			return next(ctx, msg)
		}
		if dup {
			ConsumerMessagesDuplicate.WithLabelValues(queue, group).Inc()
			return nil
		}

		if err := next(ctx, msg); err != nil {
			return err
		}

		// Mark as processed only after successful handling. A failed mark
		// risks one duplicate send, never a lost message.
		_ = store.Add(ctx, id)
		return nil
	}
}
