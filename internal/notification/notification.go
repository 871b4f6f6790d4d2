package notification

import (
	"context"
	"log/slog"
)

// Message describes an outbound SMS payload.
type Message struct {
	Destination string
	Body        string
}

// Sender delivers messages to a downstream SMS gateway. Delivery is
// best-effort; no confirmation is consumed by the callers.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// LoggerSender is a stub implementation that writes messages to the logger
// instead of a real gateway. The message body is not logged because it
// carries one-time codes.
type LoggerSender struct {
	logger *slog.Logger
}

// NewLoggerSender constructs a logging sender stub.
func NewLoggerSender(logger *slog.Logger) *LoggerSender {
	return &LoggerSender{logger: logger}
}

// Send records the dispatch attempt.
func (s *LoggerSender) Send(_ context.Context, message Message) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("sms dispatched", "destination", message.Destination)
	return nil
}
