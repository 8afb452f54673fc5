package mock

import (
	"context"
	"log/slog"
	"time"

	"github.com/grana-flow/grana-flow-api/internal/notify"
)

// Mailer is a mail transport that logs messages and always succeeds. It
// simulates a 10ms delay to mimic real sending latency. Used in development
// and tests.
type Mailer struct {
	logger *slog.Logger
}

// New creates a mock mailer.
func New(logger *slog.Logger) *Mailer {
	return &Mailer{logger: logger}
}

// Name returns the transport name.
func (m *Mailer) Name() string {
	return "mock"
}

// Send logs the message details and simulates a sending delay.
func (m *Mailer) Send(ctx context.Context, msg notify.MailMessage) error {
	time.Sleep(10 * time.Millisecond)

	m.logger.InfoContext(ctx, "mock mailer: mail sent",
		slog.String("subject", msg.Subject),
		slog.Any("to", msg.MailAddressesTo),
		slog.Bool("html", msg.IsBodyHTML),
		slog.Int("priority", int(msg.MailPriority)),
	)
	return nil
}
