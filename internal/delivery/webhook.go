// Package delivery hands outbound messages to an external channel provider.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// Config holds webhook gateway configuration.
type Config struct {
	URL        string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// Payload is the body posted for each outbound message.
type Payload struct {
	MessageID string        `json:"message_id"`
	ThreadID  string        `json:"thread_id"`
	Channel   model.Channel `json:"channel"`
	To        string        `json:"to"`
	ToName    string        `json:"to_name,omitempty"`
	From      string        `json:"from"`
	Subject   string        `json:"subject,omitempty"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

// WebhookGateway posts messages to a provider endpoint. A 2xx response
// counts as delivered.
type WebhookGateway struct {
	http   *resty.Client
	logger *logger.Logger
}

// NewWebhookGateway creates a gateway for cfg.URL.
func NewWebhookGateway(cfg Config, log *logger.Logger) (*WebhookGateway, error) {
	if cfg.URL == "" {
		return nil, errors.New("delivery webhook URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	log.Info("delivery webhook configured", zap.String("url", cfg.URL), zap.Int("retries", cfg.RetryCount))

	return &WebhookGateway{http: client, logger: log}, nil
}

// Deliver posts msg to the provider.
func (g *WebhookGateway) Deliver(ctx context.Context, msg *model.Message) error {
	payload := Payload{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Channel:   msg.Channel,
		To:        msg.To.Contact,
		ToName:    msg.To.Name,
		From:      msg.From.Contact,
		Subject:   msg.Subject,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}

	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", msg.ID).
		SetBody(payload).
		Post("")
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	if resp.IsError() {
		g.logger.Warn("delivery provider rejected message",
			zap.String("message_id", msg.ID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("response_body", resp.String()),
		)
		return fmt.Errorf("delivery provider returned %s", resp.Status())
	}
	return nil
}
