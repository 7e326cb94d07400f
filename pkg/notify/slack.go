package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackSink posts messages to a Slack incoming webhook
type SlackSink struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSink creates a Slack sink. channel may be empty to use the
// webhook's default channel.
func NewSlackSink(webhookURL, channel string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Send posts msg to the webhook
func (s *SlackSink) Send(ctx context.Context, msg string) error {
	payload := slackMessage{Text: msg}
	if s.channel != "" {
		payload.Channel = "#" + s.channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %s: %s", resp.Status, bytes.TrimSpace(b))
	}
	return nil
}
