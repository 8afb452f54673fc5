package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/grana-flow/grana-flow-api/internal/notify"
	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
)

// Config holds SMTP transport configuration. Credentials live here, on the
// consumer side, never inside queued messages.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends mail over SMTP. Dial-and-send runs behind a circuit breaker
// so a dead SMTP host fails fast instead of stalling every worker attempt.
type Mailer struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger

	// sendMail is swappable in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates an SMTP mailer.
func New(cfg Config, logger *slog.Logger) *Mailer {
	settings := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("smtp circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Mailer{
		cfg:      cfg,
		breaker:  gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

// Name returns the transport name.
func (m *Mailer) Name() string {
	return "smtp"
}

// Send delivers the message to every recipient in one SMTP transaction.
func (m *Mailer) Send(ctx context.Context, msg notify.MailMessage) error {
	if len(msg.MailAddressesTo) == 0 {
		return apperrors.InvalidInput("mail message has no recipients")
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	raw := m.build(msg)

	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.sendMail(addr, auth, m.cfg.From, msg.MailAddressesTo, raw)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperrors.Unavailable("smtp", err)
		}
		return fmt.Errorf("send mail: %w", err)
	}

	m.logger.InfoContext(ctx, "mail sent",
		slog.String("subject", msg.Subject),
		slog.Int("recipients", len(msg.MailAddressesTo)),
	)
	return nil
}

// build assembles the RFC 5322 message bytes.
func (m *Mailer) build(msg notify.MailMessage) []byte {
	var sb strings.Builder

	from := m.cfg.From
	if msg.DisplayName != "" {
		from = fmt.Sprintf("%s <%s>", msg.DisplayName, m.cfg.From)
	}

	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(msg.MailAddressesTo, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&sb, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	if msg.IsBodyHTML {
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	if msg.MailPriority == notify.PriorityHigh {
		sb.WriteString("X-Priority: 1\r\n")
	} else if msg.MailPriority == notify.PriorityLow {
		sb.WriteString("X-Priority: 5\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)

	return []byte(sb.String())
}
