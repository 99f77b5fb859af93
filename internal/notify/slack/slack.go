// Package slack posts feed ingest summaries to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/capetl/internal/pipeline"
)

const (
	maxListLen  = 3000
	maxListed   = 25
	httpTimeout = 10 * time.Second
)

// Notifier sends ingest summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyIngest is
// a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// NotifyIngest posts a summary of newly archived alerts.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) NotifyIngest(ctx context.Context, s *pipeline.IngestSummary) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(s))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "posted ingest summary to slack", "run_id", s.RunID, "alerts", len(s.Alerts))
	return nil
}

func buildMessage(s *pipeline.IngestSummary) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			alertsBlock(s),
			{"type": "divider"},
			contextBlock(s),
		},
	}
}

// headerEmoji is the same for every batch; alerts are not ranked.
const headerEmoji = "\U0001f4e5" // inbox tray

func headerBlock(s *pipeline.IngestSummary) map[string]any {
	noun := "alerts"
	if len(s.Alerts) == 1 {
		noun = "alert"
	}
	text := fmt.Sprintf("%s %d new IPAWS %s archived", headerEmoji, len(s.Alerts), noun)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(s *pipeline.IngestSummary) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*New:* %d", len(s.Alerts)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duplicates:* %d", s.Duplicates),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Archive:* `%s`", s.FileName),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func alertsBlock(s *pipeline.IngestSummary) map[string]any {
	var b strings.Builder
	for i, a := range s.Alerts {
		if i == maxListed {
			fmt.Fprintf(&b, "_and %d more_\n", len(s.Alerts)-maxListed)
			break
		}
		event := a.Event
		if event == "" {
			event = "Unnamed event"
		}
		fmt.Fprintf(&b, "• *%s*", event)
		if a.Severity != "" {
			fmt.Fprintf(&b, " (%s)", a.Severity)
		}
		if a.AreaDesc != "" {
			fmt.Fprintf(&b, " %s", a.AreaDesc)
		}
		fmt.Fprintf(&b, " `%s`\n", a.Identifier)
	}

	text := truncate(strings.TrimSuffix(b.String(), "\n"), maxListLen)
	if text == "" {
		text = "_No alerts._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alerts*\n\n%s", text),
		},
	}
}

func contextBlock(s *pipeline.IngestSummary) map[string]any {
	ts := s.At
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("capetl • run %s • %s", s.RunID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
