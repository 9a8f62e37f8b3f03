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
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCompleteMissingCredentialMakesNoCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Model: "m", Credential: "  "})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("upstream was called %d times, want 0", hits)
	}
}

func TestCompleteSendsChatRequest(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/v1/", Model: "moonshotai/kimi-k2.5", Credential: "k", Temperature: 0.2})
	text, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: []Part{TextPart("look"), ImagePart("data:image/jpeg;base64,AAAA")}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q, want hello", text)
	}
	if auth != "Bearer k" {
		t.Fatalf("Authorization = %q", auth)
	}
	if path != "/v1/chat/completions" {
		t.Fatalf("path = %q, want /v1/chat/completions", path)
	}
	if got.Model != "moonshotai/kimi-k2.5" || got.Temperature != 0.2 || len(got.Messages) != 2 {
		t.Fatalf("request = %+v", got)
	}
	var parts []Part
	if err := json.Unmarshal(got.Messages[1].Content, &parts); err != nil {
		t.Fatalf("multimodal content not an array: %s", got.Messages[1].Content)
	}
	if len(parts) != 2 || parts[1].Type != "image_url" || parts[1].ImageURL.URL != "data:image/jpeg;base64,AAAA" {
		t.Fatalf("parts = %+v", parts)
	}
}

func TestCompleteUpstreamErrorMessages(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"message":"overloaded"}`, "overloaded"},
		{`{"error":{"message":"quota exceeded"}}`, "quota exceeded"},
		{`{"error":"bad key"}`, "bad key"},
		{`{"detail":"not found"}`, "not found"},
		{`<html>gateway</html>`, "AI service returned status 503"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, tc.body)
		}))
		c := NewClient(Options{BaseURL: srv.URL, Credential: "k"})
		_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
		srv.Close()

		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Fatalf("err = %v, want *UpstreamError", err)
		}
		if ue.Status != 503 || err.Error() != tc.want {
			t.Fatalf("error = %d %q, want 503 %q", ue.Status, err.Error(), tc.want)
		}
	}
}

func TestCompleteEmptyResponse(t *testing.T) {
	for _, body := range []string{`{"choices":[]}`, `{"choices":[{"message":{"content":"   "}}]}`, `{"choices":[{"message":{"content":null}}]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		}))
		c := NewClient(Options{BaseURL: srv.URL, Credential: "k"})
		_, err := c.Complete(context.Background(), nil)
		srv.Close()
		if !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("body %s: err = %v, want ErrEmptyResponse", body, err)
		}
	}
}

func TestCompleteContentParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}}]}`)
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, Credential: "k"})
	text, err := c.Complete(context.Background(), nil)
	if err != nil || text != "ab" {
		t.Fatalf("Complete = %q, %v; want ab", text, err)
	}
}
