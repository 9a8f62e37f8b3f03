/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry sends opt-in anonymous usage events (AI generations, downloads) and
// crash reports. Nothing is sent unless the user opted in and an endpoint is configured.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "excalidesk/internal/log"
	"excalidesk/internal/version"
)

// Config holds runtime configuration for telemetry and crash uploads.
//
// Environment variables (read by FromEnv):
// - EXD_TELEMETRY_OPT_IN: "1", "true", "yes" or "on" to enable
// - EXD_TELEMETRY_URL: URL that receives batches of JSON events
// - EXD_CRASH_UPLOAD_URL: URL that receives crash reports
// - EXD_TELEMETRY_TIMEOUT_MS: request timeout, default 1500ms
// - EXD_TELEMETRY_DEBUG: log send attempts
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	BatchSize    int
	DebugLogging bool
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("EXD_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("EXD_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("EXD_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("EXD_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("EXD_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Event is one recorded occurrence. Props must not carry drawing content or paths.
type Event struct {
	Name    string         `json:"name"`
	TS      string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

// Client batches events and posts them from a background goroutine. Recording never
// blocks; events are dropped when the queue is full.
type Client struct {
	cfg  Config
	log  *slog.Logger
	cli  *http.Client
	q    chan Event
	wg   sync.WaitGroup
	once sync.Once
	stop chan struct{}

	mu      sync.Mutex
	pending int
	idle    *sync.Cond
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client, creating it from the environment on first use.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// SetDefault replaces the process-wide client.
func SetDefault(c *Client) {
	defaultMu.Lock()
	defaultClient = c
	defaultMu.Unlock()
}

// New starts a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	c := &Client{
		cfg:  cfg,
		log:  applog.WithComponent("telemetry"),
		cli:  &http.Client{Timeout: cfg.Timeout},
		q:    make(chan Event, 128),
		stop: make(chan struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	c.wg.Add(1)
	go c.loop()
	return c
}

// Enabled reports whether events are sent.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event records name with props if enabled. Safe for concurrent use.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	select {
	case <-c.stop:
		return
	default:
	}
	ev := Event{
		Name:    name,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	if len(props) > 0 {
		ev.Props = make(map[string]any, len(props))
		for k, v := range props {
			ev.Props[k] = v
		}
	}
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
	select {
	case c.q <- ev:
	default:
		c.done(1)
	}
}

func (c *Client) done(n int) {
	c.mu.Lock()
	c.pending -= n
	if c.pending <= 0 {
		c.pending = 0
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// Flush waits until queued events have been sent or ctx is done.
func (c *Client) Flush(ctx context.Context) {
	waited := make(chan struct{})
	go func() {
		c.mu.Lock()
		for c.pending > 0 {
			c.idle.Wait()
		}
		c.mu.Unlock()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}
}

// Close sends what is queued and stops the background goroutine.
func (c *Client) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *Client) loop() {
	defer c.wg.Done()
	var batch []Event
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.send(batch)
		c.done(len(batch))
		batch = nil
	}
	for {
		select {
		case ev := <-c.q:
			batch = append(batch, ev)
			// Drain whatever else is already queued.
			for len(batch) < c.cfg.BatchSize {
				select {
				case more := <-c.q:
					batch = append(batch, more)
					continue
				default:
				}
				break
			}
			flush()
		case <-c.stop:
			for {
				select {
				case ev := <-c.q:
					batch = append(batch, ev)
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

func (c *Client) send(batch []Event) {
	buf, err := json.Marshal(batch)
	if err != nil {
		return
	}
	if err := c.post(c.cfg.EventsURL, "application/json", buf); err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Int("events", len(batch)), slog.Any("err", err))
		}
		return
	}
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry events sent", slog.Int("events", len(batch)))
	}
}

func (c *Client) post(url, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// UploadCrash posts a serialized crash report if the user opted in. It blocks for at most
// the configured timeout.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	if err := c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", report); err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("crash upload failed", slog.Any("err", err))
		}
		return
	}
	if c.cfg.DebugLogging {
		c.log.Debug("crash report uploaded")
	}
}
