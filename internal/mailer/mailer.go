// Package mailer hands rendered notifications to an outbound mail
// collaborator. Every driver honours the context deadline.
package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/observability"
)

// Mailer delivers one message to a set of recipients.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// New builds the mailer selected by cfg.Driver.
func New(cfg config.MailerConfig, logger *zap.Logger) (Mailer, error) {
	logger = observability.Component(logger, "mailer")
	switch cfg.Driver {
	case "", config.MailerDriverLog:
		return NewLogMailer(cfg.From, logger), nil
	case config.MailerDriverSMTP:
		return NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			TLS:      cfg.SMTPTLS,
		}, logger)
	case config.MailerDriverHTTP:
		return NewHTTPMailer(HTTPConfig{
			URL:     cfg.HTTPURL,
			Token:   cfg.HTTPToken,
			From:    cfg.From,
			Timeout: cfg.Timeout(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", cfg.Driver)
	}
}
