package external

import (
	"context"
	"log/slog"
	"sync"

	"subwatch/internal/notifications"
)

// StubTransport implements notifications.Transport by logging the message and
// recording it in memory. Used when EMAIL_PROVIDER=stub.
type StubTransport struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []SentMessage
}

// SentMessage is one message accepted by StubTransport.
type SentMessage struct {
	To      string
	Subject string
	Body    string
}

func NewStubTransport(logger *slog.Logger) *StubTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubTransport{logger: logger}
}

func (s *StubTransport) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "stub: email send",
		"recipient", notifications.RedactEmail(to),
		"subject", subject,
		"body_bytes", len(body),
	)
	s.mu.Lock()
	s.sent = append(s.sent, SentMessage{To: to, Subject: subject, Body: body})
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of the messages accepted so far.
func (s *StubTransport) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

var (
	_ notifications.Transport = (*StubTransport)(nil)
	_ notifications.Transport = (*SendGridTransport)(nil)
)
