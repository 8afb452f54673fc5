package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQName(t *testing.T) {
	assert.Equal(t, "dlq.confirmEmail-queue", DLQName("confirmEmail-queue"))
	assert.Equal(t, "dlq.2FA-queue", DLQName("2FA-queue"))
}

func TestMessageID(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		msg := kafka.Message{
			Headers: []kafka.Header{
				{Key: "other", Value: []byte("x")},
				{Key: HeaderMessageID, Value: []byte("abc-123")},
			},
		}
		assert.Equal(t, "abc-123", MessageID(msg))
	})

	t.Run("absent", func(t *testing.T) {
		assert.Empty(t, MessageID(kafka.Message{}))
	})
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"localhost:9092"})

	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchTimeout)
	assert.False(t, cfg.Async)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()

	t.Run("unmarked ID is not contained", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)

		dup, err := store.Contains(ctx, "msg-1")
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("marked ID is contained", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)

		require.NoError(t, store.Add(ctx, "msg-1"))

		dup, err := store.Contains(ctx, "msg-1")
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("expired entries are seen again", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Nanosecond)

		require.NoError(t, store.Add(ctx, "msg-1"))

		time.Sleep(time.Millisecond)

		dup, err := store.Contains(ctx, "msg-1")
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("distinct IDs are independent", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)

		require.NoError(t, store.Add(ctx, "msg-1"))

		dup, err := store.Contains(ctx, "msg-2")
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("full store stays bounded when nothing expired", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Hour)
		store.maxSize = 10

		for i := 0; i < 25; i++ {
			require.NoError(t, store.Add(ctx, fmt.Sprintf("msg-%d", i)))
		}

		assert.LessOrEqual(t, store.Len(), 10)

		// The newest entry survives eviction.
		dup, err := store.Contains(ctx, "msg-24")
		require.NoError(t, err)
		assert.True(t, dup)
	})
}

func TestIdempotentHandler(t *testing.T) {
	ctx := context.Background()

	msgWithID := func(id string) kafka.Message {
		return kafka.Message{
			Topic:   "confirmEmail-queue",
			Value:   []byte(`{}`),
			Headers: []kafka.Header{{Key: HeaderMessageID, Value: []byte(id)}},
		}
	}

	t.Run("duplicate message is skipped", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)
		calls := 0
		h := IdempotentHandler(store, "confirmEmail-queue", "mailer", func(ctx context.Context, msg kafka.Message) error {
			calls++
			return nil
		})

		require.NoError(t, h(ctx, msgWithID("m1")))
		require.NoError(t, h(ctx, msgWithID("m1")))

		assert.Equal(t, 1, calls)
	})

	t.Run("message without ID is always processed", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)
		calls := 0
		h := IdempotentHandler(store, "confirmEmail-queue", "mailer", func(ctx context.Context, msg kafka.Message) error {
			calls++
			return nil
		})

		require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{}`)}))
		require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{}`)}))

		assert.Equal(t, 2, calls)
	})

	t.Run("handler error propagates", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)
		wantErr := errors.New("send failed")
		h := IdempotentHandler(store, "confirmEmail-queue", "mailer", func(ctx context.Context, msg kafka.Message) error {
			return wantErr
		})

		err := h(ctx, msgWithID("m1"))
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("failed attempt is not marked, retry reaches the handler", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)
		calls := 0
		h := IdempotentHandler(store, "confirmEmail-queue", "mailer", func(ctx context.Context, msg kafka.Message) error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		})

		require.Error(t, h(ctx, msgWithID("m1")))
		require.NoError(t, h(ctx, msgWithID("m1")))
		assert.Equal(t, 2, calls)

		// Only the successful attempt marks the ID.
		require.NoError(t, h(ctx, msgWithID("m1")))
		assert.Equal(t, 2, calls)
	})
}

func TestConsumerProcess(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		c := NewConsumer(ConsumerConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "mailer",
			Queue:   "confirmEmail-queue",
		}, func(ctx context.Context, msg kafka.Message) error {
			calls++
			return nil
		}, nil, logger)
		t.Cleanup(func() { _ = c.Close() })

		err := c.process(ctx, kafka.Message{Topic: "confirmEmail-queue"}, "confirmEmail-queue", "mailer")
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		calls := 0
		c := NewConsumer(ConsumerConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "mailer",
			Queue:   "confirmEmail-queue",
		}, func(ctx context.Context, msg kafka.Message) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		}, nil, logger)
		t.Cleanup(func() { _ = c.Close() })

		err := c.process(ctx, kafka.Message{Topic: "confirmEmail-queue"}, "confirmEmail-queue", "mailer")
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausts attempts and returns last error", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("permanent")
		c := NewConsumer(ConsumerConfig{
			Brokers:     []string{"localhost:9092"},
			GroupID:     "mailer",
			Queue:       "confirmEmail-queue",
			MaxAttempts: 2,
		}, func(ctx context.Context, msg kafka.Message) error {
			calls++
			return wantErr
		}, nil, logger)
		t.Cleanup(func() { _ = c.Close() })

		err := c.process(ctx, kafka.Message{Topic: "confirmEmail-queue"}, "confirmEmail-queue", "mailer")
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 2, calls)
	})
}

// The retry loop re-invokes the deduplicating handler, so a transient send
// failure must not be absorbed as a duplicate: the retry has to reach the
// sender, and exhausted attempts have to surface so the message gets
// dead-lettered instead of committed as processed.
func TestConsumerProcess_WithIdempotentHandler(t *testing.T) {
	ctx := context.Background()

	msgWithID := func(id string) kafka.Message {
		return kafka.Message{
			Topic:   "confirmEmail-queue",
			Value:   []byte(`{}`),
			Headers: []kafka.Header{{Key: HeaderMessageID, Value: []byte(id)}},
		}
	}

	t.Run("transient failure is retried through the dedupe wrapper", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)
		sends := 0
		h := IdempotentHandler(store, "confirmEmail-queue", "mailer", func(ctx context.Context, msg kafka.Message) error {
			sends++
			if sends == 1 {
				return errors.New("transient")
			}
			return nil
		})
		c := NewConsumer(ConsumerConfig{
			Brokers:     []string{"localhost:9092"},
			GroupID:     "mailer",
			Queue:       "confirmEmail-queue",
			MaxAttempts: 3,
		}, h, nil, testLogger())
		t.Cleanup(func() { _ = c.Close() })

		err := c.process(ctx, msgWithID("m1"), "confirmEmail-queue", "mailer")
		require.NoError(t, err)
		assert.Equal(t, 2, sends)

		// A genuine redelivery of the now-processed message is skipped.
		err = c.process(ctx, msgWithID("m1"), "confirmEmail-queue", "mailer")
		require.NoError(t, err)
		assert.Equal(t, 2, sends)
	})

	t.Run("exhausted attempts surface for dead-lettering", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Minute)
		sends := 0
		wantErr := errors.New("smtp down")
		h := IdempotentHandler(store, "confirmEmail-queue", "mailer", func(ctx context.Context, msg kafka.Message) error {
			sends++
			return wantErr
		})
		c := NewConsumer(ConsumerConfig{
			Brokers:     []string{"localhost:9092"},
			GroupID:     "mailer",
			Queue:       "confirmEmail-queue",
			MaxAttempts: 3,
		}, h, nil, testLogger())
		t.Cleanup(func() { _ = c.Close() })

		err := c.process(ctx, msgWithID("m1"), "confirmEmail-queue", "mailer")
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 3, sends)

		// The failed ID was never marked, so a redelivery tries again.
		dup, cerr := store.Contains(ctx, "m1")
		require.NoError(t, cerr)
		assert.False(t, dup)
	})
}

func TestConsumerQueue(t *testing.T) {
	c := NewConsumer(ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "mailer",
		Queue:   "2FA-queue",
	}, func(ctx context.Context, msg kafka.Message) error { return nil }, nil, testLogger())
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, "2FA-queue", c.Queue())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
