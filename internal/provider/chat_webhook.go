package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// ChatMessage is the JSON body posted to the chat platform's incoming webhook.
type ChatMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// ChatWebhook relays activities by POSTing to a chat incoming-webhook URL.
type ChatWebhook struct {
	url        string
	username   string
	httpClient *http.Client
}

func NewChatWebhook(url, username string, timeout time.Duration) *ChatWebhook {
	return &ChatWebhook{
		url:      url,
		username: username,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Relay posts one line describing the activity and expects any 2xx.
func (w *ChatWebhook) Relay(ctx context.Context, msg domain.RelayMessage) error {
	body, err := json.Marshal(ChatMessage{
		Content:  FormatActivity(msg),
		Username: w.username,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected chat webhook status: %d", resp.StatusCode)
	}
	return nil
}

// FormatActivity renders the single line posted to the channel.
func FormatActivity(msg domain.RelayMessage) string {
	a := msg.Activity
	name := msg.Member.DisplayName
	if name == "" {
		name = "athlete " + msg.Member.AthleteID
	}
	title := a.Name
	if title == "" {
		title = msg.Payload.Updates["title"]
	}
	moving := a.MovingDuration().Round(time.Second)
	return fmt.Sprintf("%s finished %q (%s): %.2f km in %s", name, title, a.SportType, a.Distance/1000, moving)
}

// compile-time check that ChatWebhook implements Relay
var _ Relay = (*ChatWebhook)(nil)
