// Package notify posts proposed remediation plans to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/planner"
)

// ErrNotify indicates the webhook rejected or never received the message.
var ErrNotify = errors.New("notification failed")

const defaultTimeout = 10 * time.Second

// Notifier delivers a proposed plan for an incident to a human channel.
type Notifier interface {
	PostPlan(ctx context.Context, incident string, plan planner.Plan) error
}

// Noop is a Notifier that delivers nothing. Used when no webhook is
// configured.
type Noop struct{}

func (Noop) PostPlan(context.Context, string, planner.Plan) error { return nil }

// Webhook posts plans as Slack-compatible text payloads.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook creates a webhook notifier. timeout bounds each delivery;
// zero means a 10 second default.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: webhook URL required", ErrNotify)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// PostPlan renders the plan and delivers it to the webhook.
func (w *Webhook) PostPlan(ctx context.Context, incident string, plan planner.Plan) error {
	payload, err := json.Marshal(map[string]string{"text": RenderPlan(incident, plan)})
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrNotify, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrNotify, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned status %d", ErrNotify, resp.StatusCode)
	}

	w.logger.Debug("plan posted to webhook", zap.Int("steps", len(plan.Steps)))
	return nil
}

// RenderPlan formats a plan as Slack-style markdown text.
func RenderPlan(incident string, plan planner.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Incident:* %s\n", incident)
	fmt.Fprintf(&b, "*Confidence:* %.2f\n\n", plan.Confidence)

	b.WriteString("*Plan:*\n")
	if len(plan.Steps) == 0 {
		b.WriteString("No steps provided.")
	} else {
		for i, step := range plan.Steps {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "• %s", step)
		}
	}

	b.WriteString("\n\n*Risks:*\n")
	if len(plan.Risks) == 0 {
		b.WriteString("No risks provided.")
	} else {
		for i, risk := range plan.Risks {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "• %s", risk)
		}
	}

	return b.String()
}
