package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grana-flow/grana-flow-api/internal/notify"
)

type fakeMailer struct {
	sent []notify.MailMessage
	err  error
}

func (f *fakeMailer) Name() string { return "fake" }

func (f *fakeMailer) Send(_ context.Context, msg notify.MailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mailPayload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(notify.MailMessage{
		DisplayName:     "GranaFlow",
		Body:            "<p>hello</p>",
		Subject:         "Confirm email",
		IsBodyHTML:      true,
		MailPriority:    notify.PriorityHigh,
		MailAddressesTo: []string{"a@x.com"},
	})
	require.NoError(t, err)
	return body
}

func TestMailHandler_DeliversDecodedMessage(t *testing.T) {
	m := &fakeMailer{}
	h := mailHandler(m, testLogger())

	err := h(context.Background(), kafka.Message{
		Topic: notify.QueueConfirmEmail,
		Value: mailPayload(t),
	})

	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "Confirm email", m.sent[0].Subject)
	assert.Equal(t, []string{"a@x.com"}, m.sent[0].MailAddressesTo)
}

func TestMailHandler_RejectsMalformedPayload(t *testing.T) {
	m := &fakeMailer{}
	h := mailHandler(m, testLogger())

	err := h(context.Background(), kafka.Message{Value: []byte("not json")})

	require.Error(t, err)
	assert.Empty(t, m.sent)
}

func TestMailHandler_RejectsEmptyRecipients(t *testing.T) {
	m := &fakeMailer{}
	h := mailHandler(m, testLogger())

	body, err := json.Marshal(notify.MailMessage{Subject: "x"})
	require.NoError(t, err)

	err = h(context.Background(), kafka.Message{Value: body})

	require.Error(t, err)
	assert.Empty(t, m.sent)
}

func TestMailHandler_PropagatesSendFailure(t *testing.T) {
	m := &fakeMailer{err: errors.New("smtp down")}
	h := mailHandler(m, testLogger())

	err := h(context.Background(), kafka.Message{Value: mailPayload(t)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake")
}

func TestNew_BuildsOneConsumerPerQueue(t *testing.T) {
	w := New(Config{Brokers: []string{"localhost:9092"}}, &fakeMailer{}, testLogger())
	defer w.Close()

	require.Len(t, w.consumers, len(notify.Queues))
	seen := make(map[string]bool)
	for _, c := range w.consumers {
		seen[c.Queue()] = true
	}
	for _, q := range notify.Queues {
		assert.True(t, seen[q], "missing consumer for %s", q)
	}
}
