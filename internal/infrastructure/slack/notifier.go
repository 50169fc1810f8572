// Package slack delivers leads to a Slack incoming webhook, with message
// urgency tiered by the lead's classification.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

// Notifier posts tiered lead alerts to a webhook URL.
type Notifier struct {
	webhookURL    string
	mentionUserID string
	client        *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers the webhook and an optional user to mention on
// priority and active-buyer alerts.
func NewNotifier(webhookURL, mentionUserID string) *Notifier {
	return &Notifier{
		webhookURL:    webhookURL,
		mentionUserID: mentionUserID,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyLead posts one message for the record. Failures are returned to
// the caller; the notifier never retries on its own, so a transient
// webhook error cannot produce duplicate alerts.
func (n *Notifier) NotifyLead(ctx context.Context, rec domain.SignalRecord) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack notifier misconfigured")
	}

	body, err := json.Marshal(map[string]string{"text": n.buildMessage(rec)})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack error: %s", resp.Status)
	}
	return nil
}

func (n *Notifier) buildMessage(rec domain.SignalRecord) string {
	total := rec.Scores.Total()
	breakdown := fmt.Sprintf("Pain:%d/%d | Urgency:%d/%d | Commercial:%d/%d | Decision-maker:%d/%d | Fit:%d/%d",
		rec.Scores.Pain, domain.MaxPain,
		rec.Scores.Urgency, domain.MaxUrgency,
		rec.Scores.Commercial, domain.MaxCommercial,
		rec.Scores.Proximity, domain.MaxProximity,
		rec.Scores.Fit, domain.MaxFit)

	title := rec.Signal.Title
	if runes := []rune(title); len(runes) > 100 {
		title = string(runes[:100])
	}
	author := rec.Signal.Author
	if author == "" {
		author = "unknown"
	}

	details := fmt.Sprintf("*%s*\nSource: %s | Author: %s\nCategory: %s\n%s\n\n*Why:* %s\n*Hook:* %s\n*Link:* %s",
		title, rec.Signal.Source, author, rec.Category, breakdown,
		rec.Rationale, rec.Hook, rec.Signal.ExternalID)

	mention := ""
	if n.mentionUserID != "" {
		mention = fmt.Sprintf("<@%s> ", n.mentionUserID)
	}

	switch rec.Tier {
	case domain.TierActiveBuyer:
		return fmt.Sprintf("%s:rotating_light: *ACTIVE BUYER DETECTED* (Score: %d/100)\n\n%s\n\nEngage IMMEDIATELY.", mention, total, details)
	case domain.TierVeryHigh:
		return fmt.Sprintf("%s:fire: *Priority Lead* (Score: %d/100)\n\n%s\n\nEngage within hours — consultative approach.", mention, total, details)
	default:
		return fmt.Sprintf(":mag: *New Lead* (Score: %d/100)\n\n%s", total, details)
	}
}
