// Package httpapi implements the sender against an HTTP transactional-email
// API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// Sender posts rendered messages to a transactional-email endpoint and reads
// the provider message ID from the response.
type Sender struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewSender creates a sender for the given provider endpoint.
func NewSender(endpoint, apiKey string, logger *slog.Logger) *Sender {
	return &Sender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logger.With("module", "sender"),
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send transmits one message. Any non-2xx response is a transport error.
func (s *Sender) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	payload, err := json.Marshal(sendRequest{To: recipient, Subject: subject, Body: body})
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create send request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call send provider: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed sendResponse

	err = json.Unmarshal(respBody, &parsed)
	if err != nil {
		return "", fmt.Errorf("failed to decode provider response: %w", err)
	}

	if parsed.MessageID == "" {
		return "", fmt.Errorf("provider response missing message_id: %s", string(respBody))
	}

	return parsed.MessageID, nil
}
