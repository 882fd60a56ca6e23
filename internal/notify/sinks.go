package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-helpdesk-insights-ui/internal/connectors/amqp"
	"go-helpdesk-insights-ui/internal/insights"
)

// SlackSink posts {"text": ...} to an incoming webhook.
type SlackSink struct {
	url    string
	client *http.Client
}

func NewSlackSink(webhookURL string, timeout time.Duration) *SlackSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackSink{url: webhookURL, client: &http.Client{Timeout: timeout}}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]string{"text": alert.Text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// EventPublisher is the part of the AMQP publisher the sink needs.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev amqp.Event) error
}

// AMQPSink publishes a limbo.alert event for downstream consumers.
type AMQPSink struct {
	pub EventPublisher
}

func NewAMQPSink(pub EventPublisher) *AMQPSink {
	return &AMQPSink{pub: pub}
}

func (s *AMQPSink) Name() string { return "amqp" }

type limboAlertData struct {
	Count int                 `json:"count"`
	Text  string              `json:"text"`
	Rows  []insights.LimboRow `json:"rows"`
}

func (s *AMQPSink) Send(ctx context.Context, alert Alert) error {
	ev := amqp.NewEvent(amqp.KeyLimboAlert, alert.At, limboAlertData{Count: alert.Count, Text: alert.Text, Rows: alert.Rows})
	return s.pub.Publish(ctx, amqp.KeyLimboAlert, ev)
}
