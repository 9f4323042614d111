// Package mail delivers one-time codes to users. The SMTP client is the
// production path; the log mailer keeps local development self-contained.
package mail

import (
	"context"
	"log/slog"
)

// Mailer sends a plain-text message to a single recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outbound mail to the log instead of sending it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "outbound mail (not sent)",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
