/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu      sync.Mutex
	events  []Event
	crashes [][]byte
}

func (c *collector) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var batch []Event
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("bad event batch: %v", err)
		}
		c.mu.Lock()
		c.events = append(c.events, batch...)
		c.mu.Unlock()
	})
	mux.HandleFunc("/crash", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.crashes = append(c.crashes, b)
		c.mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEventsAreBatchedAndFlushed(t *testing.T) {
	var col collector
	srv := col.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: 2 * time.Second})
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Event("ai_generation", map[string]any{"type": "text-to-diagram", "ok": true})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.Flush(ctx)

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.events) != 5 {
		t.Fatalf("sent %d events, want 5", len(col.events))
	}
	ev := col.events[0]
	if ev.Name != "ai_generation" || ev.TS == "" || ev.OS == "" || ev.Props["type"] != "text-to-diagram" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestCrashUpload(t *testing.T) {
	var col collector
	srv := col.server(t)
	c := New(Config{OptIn: true, CrashURL: srv.URL + "/crash"})
	defer c.Close()

	c.UploadCrash([]byte("STACKTRACE"))
	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.crashes) != 1 || string(col.crashes[0]) != "STACKTRACE" {
		t.Fatalf("crashes = %q", col.crashes)
	}
}

func TestDisabledClientSendsNothing(t *testing.T) {
	var col collector
	srv := col.server(t)
	for _, cfg := range []Config{
		{OptIn: false, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash"},
		{OptIn: true},
	} {
		c := New(cfg)
		if cfg.OptIn && c.Enabled() {
			t.Fatalf("client without URL should be disabled")
		}
		c.Event("download", nil)
		c.UploadCrash([]byte("x"))
		c.Flush(context.Background())
		c.Close()
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.events) != 0 || len(col.crashes) != 0 {
		t.Fatalf("disabled client sent %d events, %d crashes", len(col.events), len(col.crashes))
	}
}

func TestCloseDeliversQueuedEventsAndRejectsLater(t *testing.T) {
	var col collector
	srv := col.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events"})
	c.Event("one", nil)
	c.Close()
	c.Event("after", nil)

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.events) != 1 || col.events[0].Name != "one" {
		t.Fatalf("events = %+v", col.events)
	}
}

func TestUnreachableEndpointDoesNotBlockFlush(t *testing.T) {
	c := New(Config{OptIn: true, EventsURL: "http://127.0.0.1:1/events", Timeout: 200 * time.Millisecond})
	defer c.Close()
	c.Event("download", map[string]any{"ok": false})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	c.Flush(ctx)
	if time.Since(start) > 2*time.Second {
		t.Fatalf("flush took too long")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("EXD_TELEMETRY_OPT_IN", "yes")
	t.Setenv("EXD_TELEMETRY_URL", " http://127.0.0.1:9/events ")
	t.Setenv("EXD_CRASH_UPLOAD_URL", "")
	t.Setenv("EXD_TELEMETRY_TIMEOUT_MS", "100")

	cfg := FromEnv()
	if !cfg.OptIn || cfg.EventsURL != "http://127.0.0.1:9/events" || cfg.Timeout != 100*time.Millisecond {
		t.Fatalf("FromEnv = %+v", cfg)
	}
	c := New(cfg)
	SetDefault(c)
	defer func() { SetDefault(nil); c.Close() }()
	if !Default().Enabled() {
		t.Fatalf("default client should be enabled")
	}
}
