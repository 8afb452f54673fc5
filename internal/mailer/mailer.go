package mailer

import (
	"context"

	"github.com/grana-flow/grana-flow-api/internal/notify"
)

// Mailer delivers a single mail message through a specific transport.
type Mailer interface {
	Name() string
	Send(ctx context.Context, msg notify.MailMessage) error
}
