package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

type WebhookMessage struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Timestamp   time.Time `json:"timestamp"`
	Fields      []Field   `json:"fields,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	colorRed       = 0xFF0000
	colorDarkRed   = 0x8B0000
	colorOrange    = 0xFFA500
	colorGreen     = 0x2ECC71
	colorGray      = 0x808080
	requestTimeout = 10 * time.Second
)

// Client posts messages to a Discord webhook. A client without a webhook URL
// is a no-op, so callers never need to nil-check it.
type Client struct {
	webhookURL string
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		now: time.Now,
	}
}

// Enabled reports whether a webhook is configured
func (c *Client) Enabled() bool {
	return c != nil && c.webhookURL != ""
}

func (c *Client) SendMessage(ctx context.Context, msg WebhookMessage) error {
	if !c.Enabled() {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status: %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) SendLogMessage(ctx context.Context, level, message string, fields map[string]interface{}) error {
	if !c.Enabled() {
		return nil
	}

	embed := Embed{
		Title:       fmt.Sprintf("🚨 %s Log Alert", level),
		Description: message,
		Color:       getColorForLevel(level),
		Timestamp:   c.now(),
		Fields:      sortedFields(fields),
	}

	return c.SendMessage(ctx, WebhookMessage{Embeds: []Embed{embed}})
}

// NotifyDegraded announces that the board switched to its reconnecting state
func (c *Client) NotifyDegraded(ctx context.Context, failureStreak int, lastErr error) error {
	if !c.Enabled() {
		return nil
	}

	fields := map[string]interface{}{"failure_streak": failureStreak}
	if lastErr != nil {
		fields["last_error"] = lastErr.Error()
	}

	embed := Embed{
		Title:       "🚧 Arrival board reconnecting",
		Description: "Trip update feed unavailable, predictions hidden until it recovers.",
		Color:       colorOrange,
		Timestamp:   c.now(),
		Fields:      sortedFields(fields),
	}
	return c.SendMessage(ctx, WebhookMessage{Embeds: []Embed{embed}})
}

// NotifyRecovered announces that predictions are being shown again
func (c *Client) NotifyRecovered(ctx context.Context, downtime time.Duration) error {
	if !c.Enabled() {
		return nil
	}

	embed := Embed{
		Title:       "✅ Arrival board live again",
		Description: "Trip update feed recovered.",
		Color:       colorGreen,
		Timestamp:   c.now(),
		Fields: []Field{
			{Name: "downtime", Value: downtime.Round(time.Second).String(), Inline: true},
		},
	}
	return c.SendMessage(ctx, WebhookMessage{Embeds: []Embed{embed}})
}

func sortedFields(fields map[string]interface{}) []Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, Field{
			Name:   key,
			Value:  fmt.Sprintf("%v", fields[key]),
			Inline: true,
		})
	}
	return out
}

func getColorForLevel(level string) int {
	switch level {
	case "ERROR":
		return colorRed
	case "FATAL":
		return colorDarkRed
	case "WARN":
		return colorOrange
	default:
		return colorGray
	}
}
