// Package telegram is a minimal Bot API client for the two calls the alert
// manager makes: sendMessage and sendPhoto. Failures are reported to the
// caller, which logs and moves on; nothing here retries.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const apiBase = "https://api.telegram.org"

// Notifier is what the alert manager needs from an outbound alert channel.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoPath, caption string) error
}

// Client talks to the Telegram Bot API for a fixed bot token and chat.
type Client struct {
	baseURL    string
	botToken   string
	chatID     string
	httpClient *http.Client
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewClient builds a client. Timeout covers the full request including the
// photo upload.
func NewClient(botToken, chatID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    apiBase,
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendMessage posts a text message to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": c.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// SendPhoto uploads the image at photoPath with a caption.
func (c *Client) SendPhoto(ctx context.Context, photoPath, caption string) error {
	f, err := os.Open(photoPath)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", c.chatID); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy photo: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram API error %d: %s", parsed.ErrorCode, parsed.Description)
	}
	return nil
}
