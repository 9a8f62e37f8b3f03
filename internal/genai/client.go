/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package genai talks to the chat-completions backend and implements the canvas AI features
// (diagram-to-code and text-to-diagram) as bridge handlers.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	applog "excalidesk/internal/log"
)

var (
	ErrMissingCredential = errors.New("AI credential is not configured")
	ErrEmptyResponse     = errors.New("the model returned an empty response")
	ErrInvalidRequest    = errors.New("invalid request")
)

// UpstreamError is a non-2xx answer from the chat-completions API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("AI service returned status %d", e.Status)
}

// Message is one chat turn. Content is a string or a []Part.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Part is one element of multimodal content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// TextPart and ImagePart build content parts.
func TextPart(s string) Part { return Part{Type: "text", Text: s} }

func ImagePart(dataURL string) Part { return Part{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}} }

// Completer produces the first-choice text for a conversation.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	Model       string
	Credential  string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a minimal chat-completions client.
type Client struct {
	baseURL     string
	model       string
	credential  string
	temperature float64
	http        *http.Client
	log         *slog.Logger
}

// NewClient returns a client for opts. A zero Timeout means 2 minutes.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		model:       opts.Model,
		credential:  strings.TrimSpace(opts.Credential),
		temperature: opts.Temperature,
		http:        hc,
		log:         applog.WithComponent("genai"),
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete posts msgs to <base>/chat/completions and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	if c.credential == "" {
		return "", ErrMissingCredential
	}
	buf, err := json.Marshal(completionRequest{Model: c.model, Temperature: c.temperature, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("AI request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read AI response: %w", err)
	}
	c.log.DebugContext(ctx, "completion finished",
		slog.Int("status", resp.StatusCode), slog.Duration("took", time.Since(start)), slog.String("model", c.model))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(body)}
	}
	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode AI response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := contentText(out.Choices[0].Message.Content)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// contentText accepts either a plain string or an array of text parts.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []Part
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

// upstreamMessage pulls a human-readable message out of an error body.
func upstreamMessage(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if s, ok := m["message"].(string); ok && s != "" {
		return s
	}
	switch e := m["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if s, ok := e["message"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := m["detail"].(string); ok && s != "" {
		return s
	}
	return ""
}
