package messaging

import (
	"context"
	"log/slog"

	"github.com/npjlab/pauta/internal/agenda/application"
)

// LogMessenger writes reminders to the log instead of a broker. Used in
// development and when no AMQP URL is configured.
type LogMessenger struct {
	logger *slog.Logger
}

// NewLogMessenger creates a log-only messenger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger}
}

// Send logs the reminder and reports success.
func (m *LogMessenger) Send(_ context.Context, msg application.Message) error {
	m.logger.Info("reminder (log only)",
		"recipient", msg.To,
		"cc", len(msg.CC),
		"subject", msg.Subject,
	)
	return nil
}
