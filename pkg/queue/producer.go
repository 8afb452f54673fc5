package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
)

// HeaderMessageID is the header carrying the unique ID assigned to every
// published message. Consumers use it to deduplicate redeliveries.
const HeaderMessageID = "message_id"

// ProducerConfig holds queue producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
	Async        bool
}

// DefaultProducerConfig returns sensible defaults for the queue producer.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
}

// Producer publishes messages to named durable queues. A single Producer
// holds one connection pool and is reused across publishes; it is safe for
// concurrent use.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

// NewProducer creates a new queue producer.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  cfg.Async,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer:  w,
		brokers: cfg.Brokers,
		logger:  logger,
	}
}

// Publish sends a message body to the named queue. The body is expected to be
// UTF-8 JSON; the producer does not inspect it. A publish that the broker
// acknowledges is considered delivered; the consumer owns retry from there.
// A broker failure surfaces as an explicit transport-unavailable error.
func (p *Producer) Publish(ctx context.Context, queueName, key string, body []byte) error {
	msg := kafka.Message{
		Topic: queueName,
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderMessageID, Value: []byte(uuid.New().String())},
		},
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		ProducerPublishErrors.WithLabelValues(queueName).Inc()
		p.logger.ErrorContext(ctx, "failed to publish message",
			slog.String("queue", queueName),
			slog.String("error", err.Error()),
		)
		return apperrors.Unavailable("queue broker", fmt.Errorf("publish to %s: %w", queueName, err))
	}

	ProducerMessagesPublished.WithLabelValues(queueName).Inc()
	ProducerPublishDuration.WithLabelValues(queueName).Observe(time.Since(start).Seconds())

	p.logger.DebugContext(ctx, "message published",
		slog.String("queue", queueName),
		slog.String("key", key),
	)

	return nil
}

// Ping checks broker connectivity by dialing the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// PingBrokers dials the given brokers and returns nil if at least one is
// reachable. Used as a startup gate and as a standalone health check.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("queue: no brokers configured")
	}

	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		// Request the broker list as a lightweight health probe.
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("queue ping: all brokers unreachable: %w", lastErr)
}

// Close closes the producer and flushes pending messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageID extracts the producer-assigned message ID header, or "" if absent.
func MessageID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderMessageID {
			return string(h.Value)
		}
	}
	return ""
}
