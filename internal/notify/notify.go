package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/pkg/types"
)

// previewLen bounds the body excerpt included in notification payloads.
const previewLen = 100

// Sink delivers one notification to an external endpoint.
type Sink interface {
	Name() string
	Post(ctx context.Context, email *types.Email) error
}

// Dispatcher fires best-effort notifications when an email's category is in
// the trigger set. Sink failures are logged, never propagated, and a failure
// in one sink does not block the others.
type Dispatcher struct {
	sinks    []Sink
	triggers map[string]bool
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(sinks []Sink, triggerCategories []string, logger *logrus.Logger) *Dispatcher {
	triggers := make(map[string]bool, len(triggerCategories))
	for _, c := range triggerCategories {
		triggers[c] = true
	}
	return &Dispatcher{
		sinks:    sinks,
		triggers: triggers,
		logger:   logger,
	}
}

// Matches reports whether the category is in the trigger set.
func (d *Dispatcher) Matches(category string) bool {
	return d.triggers[category]
}

// Dispatch sends the email to every sink if its category matches the trigger
// set. Callers invoke it only after a successful index write.
func (d *Dispatcher) Dispatch(ctx context.Context, email *types.Email) {
	if !d.Matches(email.Category) {
		return
	}

	for _, sink := range d.sinks {
		if err := sink.Post(ctx, email); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"sink":     sink.Name(),
				"category": email.Category,
				"subject":  email.Subject,
			}).Warn("Notification failed")
			continue
		}
		d.logger.WithFields(logrus.Fields{
			"sink":     sink.Name(),
			"category": email.Category,
		}).Info("Notification sent")
	}
}

// SlackSink posts a formatted alert to a Slack incoming webhook.
type SlackSink struct {
	url    string
	client *http.Client
}

// NewSlackSink creates a Slack sink.
func NewSlackSink(url string) *SlackSink {
	return &SlackSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Post(ctx context.Context, email *types.Email) error {
	payload := map[string]string{
		"text": fmt.Sprintf("*New %s Email*\n*From:* %s\n*Subject:* %s\n*Preview:* %s",
			email.Category, email.From, email.Subject, preview(email.Text)),
	}
	return postJSON(ctx, s.client, s.url, payload)
}

// WebhookSink posts a structured event to a generic webhook endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a generic webhook sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// WebhookPayload is the body sent by WebhookSink.
type WebhookPayload struct {
	Event string       `json:"event"`
	Email WebhookEmail `json:"email"`
}

// WebhookEmail is the email summary carried in a webhook event.
type WebhookEmail struct {
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Category string `json:"category"`
	Account  string `json:"account"`
	Preview  string `json:"preview"`
}

func (s *WebhookSink) Post(ctx context.Context, email *types.Email) error {
	payload := WebhookPayload{
		Event: fmt.Sprintf("New %s Email", email.Category),
		Email: WebhookEmail{
			From:     email.From,
			Subject:  email.Subject,
			Category: email.Category,
			Account:  email.Account,
			Preview:  preview(email.Text),
		},
	}
	return postJSON(ctx, s.client, s.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post returned status %d", resp.StatusCode)
	}
	return nil
}

func preview(text string) string {
	if text == "" {
		return "No Content Available"
	}
	runes := []rune(text)
	if len(runes) > previewLen {
		return string(runes[:previewLen])
	}
	return text
}
