package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// QueuePublisher is the transport the producer publishes through.
type QueuePublisher interface {
	Publish(ctx context.Context, queueName, key string, body []byte) error
}

// Producer serializes mail messages and publishes them to the notification
// queues. A publish failure surfaces to the caller so the triggering
// operation can abort instead of silently losing the notification.
type Producer struct {
	queue  QueuePublisher
	logger *slog.Logger
}

// NewProducer creates a notification producer.
func NewProducer(queue QueuePublisher, logger *slog.Logger) *Producer {
	return &Producer{queue: queue, logger: logger}
}

// PublishConfirmEmail queues an email-confirmation notification.
func (p *Producer) PublishConfirmEmail(ctx context.Context, email, link string) error {
	return p.publish(ctx, QueueConfirmEmail, email, ConfirmEmailMessage(email, link))
}

// PublishTwoFactor queues a 2FA code notification.
func (p *Producer) PublishTwoFactor(ctx context.Context, email, code string) error {
	return p.publish(ctx, QueueTwoFactor, email, TwoFactorMessage(email, code))
}

// PublishPasswordReset queues a password-reset notification.
func (p *Producer) PublishPasswordReset(ctx context.Context, email, link string) error {
	return p.publish(ctx, QueueForgetPassword, email, PasswordResetMessage(email, link))
}

func (p *Producer) publish(ctx context.Context, queueName, key string, msg MailMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail message: %w", err)
	}

	if err := p.queue.Publish(ctx, queueName, key, body); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "notification queued",
		slog.String("queue", queueName),
		slog.String("subject", msg.Subject),
	)
	return nil
}
