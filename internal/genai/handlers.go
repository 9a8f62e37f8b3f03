/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"excalidesk/internal/bridge"
	applog "excalidesk/internal/log"
)

const (
	diagramToCodeInstruction = "You are a frontend developer. You receive a wireframe drawn on a whiteboard " +
		"and the texts found on it. Produce one complete, self-contained HTML document (inline CSS and " +
		"JavaScript only, no external assets) that implements the wireframe as a working prototype. " +
		"Respond with the HTML document only."

	textToDiagramInstruction = "You translate requests into Mermaid diagrams. Respond with raw Mermaid " +
		"syntax only: no prose, no explanations, no Markdown code fences."
)

// EventRecorder receives anonymous usage events.
type EventRecorder interface {
	Event(name string, props map[string]any)
}

type noEvents struct{}

func (noEvents) Event(string, map[string]any) {}

// Handlers implements the canvas AI endpoints on top of a Completer.
type Handlers struct {
	ai        Completer
	chunkSize int
	events    EventRecorder
	log       *slog.Logger
}

// HandlerOption customizes Handlers.
type HandlerOption func(*Handlers)

// WithChunkSize sets the SSE chunk size in runes.
func WithChunkSize(n int) HandlerOption { return func(h *Handlers) { h.chunkSize = n } }

// WithEvents reports one usage event per generation to r.
func WithEvents(r EventRecorder) HandlerOption {
	return func(h *Handlers) {
		if r != nil {
			h.events = r
		}
	}
}

func NewHandlers(ai Completer, opts ...HandlerOption) *Handlers {
	h := &Handlers{ai: ai, chunkSize: DefaultChunkSize, events: noEvents{}, log: applog.WithComponent("genai")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register installs both AI handlers on c.
func (h *Handlers) Register(c *bridge.Correlator) {
	c.Register(bridge.TypeDiagramToCode, bridge.HandlerFunc(h.DiagramToCode))
	c.Register(bridge.TypeTextToDiagram, bridge.HandlerFunc(h.TextToDiagram))
}

type diagramToCodeBody struct {
	Texts json.RawMessage `json:"texts"`
	Image string          `json:"image"`
	Theme string          `json:"theme"`
}

// texts accepts a plain string or a list of strings.
func (b diagramToCodeBody) texts() string {
	if len(b.Texts) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Texts, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(b.Texts, &list); err == nil {
		return strings.Join(list, "\n")
	}
	return string(b.Texts)
}

// DiagramToCode turns a wireframe into an HTML document: {"html": ...}.
func (h *Handlers) DiagramToCode(ctx context.Context, req bridge.Request) (reply bridge.Reply, err error) {
	defer h.track(ctx, req, time.Now(), &err)

	var body diagramToCodeBody
	if err := json.Unmarshal([]byte(req.BodyString()), &body); err != nil {
		return reply, fmt.Errorf("%w: decode diagram-to-code body: %v", ErrInvalidRequest, err)
	}
	prompt := "Texts on the wireframe:\n" + body.texts()
	if theme := strings.TrimSpace(body.Theme); theme != "" {
		prompt += "\nUse a " + theme + " color theme."
	}
	system := Message{Role: "system", Content: diagramToCodeInstruction}

	var text string
	img := strings.TrimSpace(body.Image)
	if img != "" {
		text, err = h.ai.Complete(ctx, []Message{system, {
			Role:    "user",
			Content: []Part{TextPart(prompt), ImagePart(imageDataURL(img))},
		}})
		if errors.Is(err, ErrMissingCredential) {
			return reply, err
		}
		if err != nil {
			h.log.WarnContext(ctx, "multimodal request failed, retrying text-only", slog.Any("err", err))
		}
	}
	if img == "" || err != nil {
		text, err = h.ai.Complete(ctx, []Message{system, {Role: "user", Content: prompt}})
		if err != nil {
			return reply, err
		}
	}
	html := ExtractHTML(text)
	if html == "" {
		return reply, ErrEmptyResponse
	}
	return jsonReply(map[string]string{"html": html})
}

func imageDataURL(img string) string {
	if strings.HasPrefix(img, "data:") {
		return img
	}
	return "data:image/jpeg;base64," + img
}

type textToDiagramBody struct {
	Prompt   string `json:"prompt"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// TextToDiagram answers with Mermaid source: {"generatedResponse": ...}, or an SSE stream
// when the request URL is a streaming endpoint.
func (h *Handlers) TextToDiagram(ctx context.Context, req bridge.Request) (reply bridge.Reply, err error) {
	defer h.track(ctx, req, time.Now(), &err)

	var body textToDiagramBody
	if err := json.Unmarshal([]byte(req.BodyString()), &body); err != nil {
		return reply, fmt.Errorf("%w: decode text-to-diagram body: %v", ErrInvalidRequest, err)
	}
	msgs := []Message{{Role: "system", Content: textToDiagramInstruction}}
	users := 0
	if p := strings.TrimSpace(body.Prompt); p != "" {
		msgs = append(msgs, Message{Role: "user", Content: p})
		users++
	}
	for _, m := range body.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
		if role == "user" {
			users++
		}
	}
	if users == 0 {
		return reply, fmt.Errorf("%w: no user message", ErrInvalidRequest)
	}

	text, err := h.ai.Complete(ctx, msgs)
	if err != nil {
		return reply, err
	}
	text = StripCodeFences(text)
	if text == "" {
		return reply, ErrEmptyResponse
	}
	if bridge.IsStreaming(req.URL) {
		return bridge.Reply{
			Status:  200,
			Body:    FrameSSE(text, h.chunkSize),
			Headers: map[string]string{"Content-Type": bridge.ContentTypeSSE, "Cache-Control": "no-cache"},
		}, nil
	}
	return jsonReply(map[string]string{"generatedResponse": text})
}

func jsonReply(v any) (bridge.Reply, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return bridge.Reply{}, fmt.Errorf("encode reply: %w", err)
	}
	return bridge.Reply{Status: 200, Body: string(b), Headers: map[string]string{"Content-Type": bridge.ContentTypeJSON}}, nil
}

func (h *Handlers) track(ctx context.Context, req bridge.Request, start time.Time, err *error) {
	ok := err == nil || *err == nil
	took := time.Since(start)
	h.events.Event("ai_generation", map[string]any{
		"type":        string(req.Type),
		"ok":          ok,
		"streaming":   bridge.IsStreaming(req.URL),
		"duration_ms": took.Milliseconds(),
	})
	h.log.InfoContext(ctx, "generation finished", slog.String("type", string(req.Type)), slog.Bool("ok", ok), slog.Duration("took", took))
}
