package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// WebhookConfig configures the outbound notification sink.
type WebhookConfig struct {
	URL              string        `yaml:"url" validate:"omitempty,url"`
	Timeout          time.Duration `yaml:"timeout" default:"5s"`
	FailureThreshold uint32        `yaml:"failure_threshold" default:"5"`
	OpenTimeout      time.Duration `yaml:"open_timeout" default:"60s"`
}

// WebhookSink posts alerts as JSON to a notification endpoint. A
// circuit breaker shields the decision path from a dead endpoint: once
// it trips, deliveries fail fast until the open timeout elapses.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookSink creates a webhook sink for the given config.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "alert-webhook",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})

	return &WebhookSink{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

// Deliver posts the alert through the circuit breaker.
func (w *WebhookSink) Deliver(alert Alert) error {
	_, err := w.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(alert)
		if err != nil {
			return nil, fmt.Errorf("encode alert: %w", err)
		}
		resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("post alert: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
