// Package worker runs the notification consumers. One consumer per named
// queue, all feeding the same mailer, each with its own dead letter queue
// and message_id deduplication.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/grana-flow/grana-flow-api/internal/mailer"
	"github.com/grana-flow/grana-flow-api/internal/notify"
	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
	"github.com/grana-flow/grana-flow-api/pkg/queue"
)

// Config holds notification worker configuration.
type Config struct {
	Brokers     []string
	GroupID     string
	MaxAttempts int
	DedupTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.GroupID == "" {
		c.GroupID = "notification-workers"
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 24 * time.Hour
	}
	return c
}

// Workers owns one consumer per notification queue.
type Workers struct {
	consumers []*queue.Consumer
	dlq       *queue.DLQProducer
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New builds consumers for every notification queue, wrapping the mail
// handler with message_id deduplication.
func New(cfg Config, sender mailer.Mailer, logger *slog.Logger) *Workers {
	cfg = cfg.withDefaults()

	dlq := queue.NewDLQProducer(cfg.Brokers, logger)
	dedup := queue.NewMemoryIdempotencyStore(cfg.DedupTTL)

	w := &Workers{dlq: dlq, logger: logger}
	for _, q := range notify.Queues {
		handler := queue.IdempotentHandler(dedup, q, cfg.GroupID, mailHandler(sender, logger))
		c := queue.NewConsumer(queue.ConsumerConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Queue:       q,
			MaxAttempts: cfg.MaxAttempts,
		}, handler, dlq, logger)
		w.consumers = append(w.consumers, c)
	}
	return w
}

// mailHandler decodes the mail payload and hands it to the sender. A payload
// that does not decode is a permanent failure and ends up in the DLQ once
// the attempts run out; a send error may be transient and is retried.
func mailHandler(sender mailer.Mailer, logger *slog.Logger) queue.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var mail notify.MailMessage
		if err := json.Unmarshal(msg.Value, &mail); err != nil {
			return fmt.Errorf("decode mail payload: %w", err)
		}
		if len(mail.MailAddressesTo) == 0 {
			return apperrors.InvalidInput("mail payload has no recipients")
		}

		if err := sender.Send(ctx, mail); err != nil {
			return fmt.Errorf("send via %s: %w", sender.Name(), err)
		}

		logger.InfoContext(ctx, "notification delivered",
			slog.String("queue", msg.Topic),
			slog.String("subject", mail.Subject),
			slog.Int("recipients", len(mail.MailAddressesTo)),
		)
		return nil
	}
}

// Start launches every consumer in its own goroutine and blocks until the
// context is cancelled and all of them have drained.
func (w *Workers) Start(ctx context.Context) {
	for _, c := range w.consumers {
		w.wg.Add(1)
		go func(c *queue.Consumer) {
			defer w.wg.Done()
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("consumer stopped",
					slog.String("queue", c.Queue()),
					slog.String("error", err.Error()),
				)
			}
		}(c)
	}
	w.wg.Wait()
}

// Close shuts down all consumers and the shared DLQ producer.
func (w *Workers) Close() error {
	var firstErr error
	for _, c := range w.consumers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.dlq.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
