// Package logsender implements a sender that only logs messages. It backs
// local development when no provider endpoint is configured.
package logsender

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type Sender struct {
	logger *slog.Logger
}

func NewSender(logger *slog.Logger) *Sender {
	return &Sender{logger: logger.With("module", "logsender")}
}

// Send logs the message and fabricates a provider message ID.
func (s *Sender) Send(ctx context.Context, recipient, subject, _ string) (string, error) {
	messageID := "log-" + uuid.New().String()

	s.logger.InfoContext(ctx, "message delivered to log",
		"recipient", recipient,
		"subject", subject,
		"message_id", messageID,
	)

	return messageID, nil
}
