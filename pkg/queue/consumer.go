package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// defaultMaxAttempts is the number of times a message handler is attempted
// before the message is dead-lettered (or dropped when no DLQ is configured).
const defaultMaxAttempts = 3

// Handler processes a single queue message. A non-nil error triggers bounded
// redelivery; exhausting all attempts sends the message to the dead-letter
// queue and commits it.
type Handler func(ctx context.Context, msg kafka.Message) error

// ConsumerConfig holds queue consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Queue       string
	MinBytes    int
	MaxBytes    int
	MaxAttempts int
}

// Consumer drains a single named queue with one long-lived reader. Messages
// are processed one at a time per consumer instance; commit happens only
// after the handler has run.
type Consumer struct {
	reader      *kafka.Reader
	handler     Handler
	dlq         *DLQProducer
	logger      *slog.Logger
	maxAttempts int
	closeOnce   sync.Once
}

// NewConsumer creates a consumer for the given queue and group. The DLQ
// producer may be nil, in which case exhausted messages are committed and
// dropped with an error log.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq *DLQProducer, logger *slog.Logger) *Consumer {
	minBytes := cfg.MinBytes
	if minBytes == 0 {
		minBytes = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10e6
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Queue,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
	})

	return &Consumer{
		reader:      r,
		handler:     handler,
		dlq:         dlq,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Queue returns the name of the queue this consumer drains.
func (c *Consumer) Queue() string {
	return c.reader.Config().Topic
}

// Start begins consuming messages. It blocks until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	group := c.reader.Config().GroupID
	queueName := c.Queue()

	c.logger.Info("consumer started",
		slog.String("queue", queueName),
		slog.String("group", group),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", slog.String("queue", queueName))
			return c.Close()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to fetch message",
					slog.String("queue", queueName),
					slog.String("error", err.Error()),
				)
				continue
			}

			ConsumerMessagesReceived.WithLabelValues(queueName, group).Inc()

			lastErr := c.process(ctx, msg, queueName, group)

			if lastErr != nil {
				ConsumerMessagesFailed.WithLabelValues(queueName, group).Inc()
				if c.dlq != nil {
					if dlqErr := c.dlq.Publish(ctx, msg, lastErr, group); dlqErr != nil {
						c.logger.Error("failed to dead-letter message",
							slog.String("queue", queueName),
							slog.String("error", dlqErr.Error()),
						)
					}
				} else {
					c.logger.Error("handler failed after all attempts, dropping message",
						slog.String("queue", queueName),
						slog.Int64("offset", msg.Offset),
						slog.String("error", lastErr.Error()),
					)
				}
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("failed to commit message",
					slog.String("queue", queueName),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// process runs the handler with bounded retries and linear backoff. It
// returns the last handler error, or nil once an attempt succeeds.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, queueName, group string) error {
	maxAttempts := c.maxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := c.handler(ctx, msg)
		ConsumerProcessingDuration.WithLabelValues(queueName, group).Observe(time.Since(start).Seconds())

		if err == nil {
			ConsumerMessagesProcessed.WithLabelValues(queueName, group).Inc()
			return nil
		}

		lastErr = err
		c.logger.Warn("handler failed",
			slog.String("queue", queueName),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", err.Error()),
		)

		if attempt < maxAttempts {
			backoff := time.Duration(attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
