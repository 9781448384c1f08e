package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DeliveryNote is the payload handed back to the chat front end when a task
// reaches a terminal state.
type DeliveryNote struct {
	TaskID       string `json:"taskId"`
	ChatID       int64  `json:"chatId"`
	Status       string `json:"status"`
	OutputURL    string `json:"outputUrl,omitempty"`
	SubtitlesURL string `json:"subtitlesUrl,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Notifier delivers task results to the front end over an HTTP callback.
type Notifier struct {
	Endpoint string
	Client   *http.Client
}

// NewNotifier constructs a Notifier posting to the provided endpoint.
func NewNotifier(endpoint string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Notify posts the delivery note. A missing endpoint disables delivery, which
// keeps single-binary development setups working.
func (n *Notifier) Notify(ctx context.Context, note DeliveryNote) error {
	if n == nil || strings.TrimSpace(n.Endpoint) == "" {
		return nil
	}

	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode delivery note: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("post delivery note: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Transient(fmt.Errorf("delivery endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("delivery endpoint returned %d", resp.StatusCode)
	}

	return nil
}
