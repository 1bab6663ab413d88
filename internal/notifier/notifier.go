// Package notifier executes the webhook side effects queued by notify rules.
// The engine never calls out itself; decisions carry webhook requests and the
// caller hands them here after evaluation, fire-and-forget.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/template"
	"time"

	"mail-router/internal/common/logging"
	"mail-router/internal/routing"
)

// Config controls delivery behavior for outbound webhooks.
type Config struct {
	Timeout       time.Duration
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
}

func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
	}
}

// Payload is the default JSON body posted when a rule carries no template.
type Payload struct {
	RuleID      string               `json:"ruleId"`
	MessageID   string               `json:"messageId"`
	Direction   routing.Direction    `json:"direction"`
	Sender      string               `json:"sender"`
	Recipients  []string             `json:"recipients"`
	Subject     string               `json:"subject"`
	Disposition routing.Disposition  `json:"disposition"`
}

// Notifier posts rule notifications over HTTP. Delivery is best-effort:
// failures are logged, never surfaced to mail flow.
type Notifier struct {
	client *http.Client
	config Config
	logger logging.Logger
}

func New(config Config, logger logging.Logger) *Notifier {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 2.0
	}
	return &Notifier{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger,
	}
}

// Dispatch sends every webhook queued on a decision. Intended to run on its
// own goroutine after the decision has been returned to the caller.
func (n *Notifier) Dispatch(ctx context.Context, msg *routing.MessageContext, decision *routing.RoutingDecision) {
	for _, hook := range decision.Webhooks {
		if err := n.Send(ctx, hook, msg, decision); err != nil {
			n.logger.Warn("webhook notification failed",
				logging.String("ruleId", hook.RuleID),
				logging.String("url", hook.URL),
				logging.Err(err))
		}
	}
}

// Send delivers one webhook, retrying transient failures with backoff.
func (n *Notifier) Send(ctx context.Context, hook routing.WebhookRequest, msg *routing.MessageContext, decision *routing.RoutingDecision) error {
	body, err := n.renderBody(hook, msg, decision)
	if err != nil {
		return fmt.Errorf("render webhook payload for rule %s: %w", hook.RuleID, err)
	}

	delay := n.config.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= n.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * n.config.BackoffFactor)
		}

		lastErr = n.post(ctx, hook.URL, body)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("webhook delivery exhausted %d attempts: %w", n.config.MaxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mail-router-notifier/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return &deliveryError{transient: true, err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &deliveryError{
		transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		err:       fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
	}
}

// renderBody builds the request body: the rule's template when present,
// otherwise the standard JSON payload.
func (n *Notifier) renderBody(hook routing.WebhookRequest, msg *routing.MessageContext, decision *routing.RoutingDecision) ([]byte, error) {
	if hook.PayloadTemplate == "" {
		return json.Marshal(Payload{
			RuleID:      hook.RuleID,
			MessageID:   msg.MessageID,
			Direction:   msg.Direction,
			Sender:      msg.Sender,
			Recipients:  msg.Recipients,
			Subject:     msg.Subject,
			Disposition: decision.Disposition,
		})
	}

	tmpl, err := template.New("payload").Parse(hook.PayloadTemplate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]interface{}{
		"Message":  msg,
		"Decision": decision,
		"RuleID":   hook.RuleID,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type deliveryError struct {
	transient bool
	err       error
}

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

func retryable(err error) bool {
	de, ok := err.(*deliveryError)
	return ok && de.transient
}
