package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer records messages instead of sending them.
type LogMailer struct {
	from   string
	logger *zap.Logger
}

// NewLogMailer creates the log-only driver.
func NewLogMailer(from string, logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{from: from, logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("mail delivered to log",
		zap.String("from", m.from),
		zap.Strings("to", recipients),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
