package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to a tingjian server.
type Client struct {
	server string
	token  string
	http   *http.Client
}

// NewClient creates a client for the given server base URL and access
// token. The timeout covers the whole round trip, including the
// server-side vision call.
func NewClient(server, token string) *Client {
	return &Client{
		server: strings.TrimRight(server, "/"),
		token:  token,
		http:   &http.Client{Timeout: 90 * time.Second},
	}
}

// serverResponse is the wire shape of both endpoints.
type serverResponse struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

// Snap uploads raw image bytes and returns the scene description.
func (c *Client) Snap(ctx context.Context, imageData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/upload", bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.send(req)
}

// Ask sends a follow-up question about the most recent capture.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return "", fmt.Errorf("failed to encode question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/ask", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *Client) send(req *http.Request) (string, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed serverResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("server returned unreadable response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != "" {
			return "", fmt.Errorf("server rejected request (status %d): %s", resp.StatusCode, parsed.Error)
		}
		return "", fmt.Errorf("server rejected request (status %d)", resp.StatusCode)
	}

	return parsed.Description, nil
}
