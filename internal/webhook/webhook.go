// Package webhook fires outbound webhook events to a single configured URL.
// Retry/backoff shape is adapted from the teacher's webhook.Dispatcher,
// trimmed of its per-URL DB registry since this spec has no control plane
// to register webhooks through — the URL comes from configuration.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Dispatcher fires events to a single webhook URL, retrying on failure.
type Dispatcher struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// New creates a Dispatcher. If url is empty, Fire is a no-op.
func New(url string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Fire sends an event asynchronously, retrying 3x with exponential backoff
// (500ms, 1s, 2s) on failure or a 4xx/5xx response.
func (d *Dispatcher) Fire(event string, data interface{}) {
	if d.url == "" {
		return
	}
	body, err := json.Marshal(Payload{Event: event, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		log.Printf("webhook.Fire: marshal: %v", err)
		return
	}
	go d.fireWithRetry(body)
}

func (d *Dispatcher) fireWithRetry(body []byte) {
	delays := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	for attempt := 0; attempt <= len(delays); attempt++ {
		if attempt > 0 {
			time.Sleep(delays[attempt-1])
		}
		status, err := d.post(body)
		if err == nil && status < 400 {
			return
		}
		log.Printf("webhook.fireWithRetry: attempt %d to %s: status=%d err=%v", attempt+1, d.url, status, err)
	}
}

func (d *Dispatcher) post(body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook.post: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook.post: do: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Test fires a test payload synchronously, reporting success/failure.
func (d *Dispatcher) Test() error {
	if d.url == "" {
		return fmt.Errorf("webhook.Test: no URL configured")
	}
	body, _ := json.Marshal(Payload{
		Event:     "webhook.test",
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"message": "test notification from personal-automator"},
	})
	status, err := d.post(body)
	if err != nil {
		return fmt.Errorf("webhook.Test: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("webhook.Test: server returned %d", status)
	}
	return nil
}
