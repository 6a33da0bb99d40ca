package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPConfig configures the HTTP relay driver.
type HTTPConfig struct {
	URL     string
	Token   string
	From    string
	Timeout time.Duration
}

// HTTPMailer posts messages as JSON to a relay. Any non-2xx answer is a
// delivery failure.
type HTTPMailer struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

type relayRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// NewHTTPMailer creates the relay driver.
func NewHTTPMailer(cfg HTTPConfig, logger *zap.Logger) (*HTTPMailer, error) {
	if cfg.URL == "" {
		return nil, errors.New("mailer http url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPMailer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (m *HTTPMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	payload, err := json.Marshal(relayRequest{From: m.cfg.From, To: recipients, Subject: subject, Text: body})
	if err != nil {
		return fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	m.logger.Debug("mail relayed", zap.Strings("to", recipients), zap.String("subject", subject))
	return nil
}
