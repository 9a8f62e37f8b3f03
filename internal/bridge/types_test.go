/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package bridge

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestNormalizeStatusAlwaysInRange(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{200, 200},
		{100, 100},
		{599, 599},
		{99, 500},
		{600, 500},
		{-1, 500},
		{0, 500},
		{int64(404), 404},
		{503.0, 503},
		{200.5, 500},
		{math.NaN(), 500},
		{math.Inf(1), 500},
		{json.Number("201"), 201},
		{json.Number("1e3"), 500},
		{json.Number("abc"), 500},
		{"200", 500},
		{nil, 500},
		{true, 500},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.in); got != tc.want {
			t.Fatalf("NormalizeStatus(%#v) = %d, want %d", tc.in, got, tc.want)
		}
	}
	for i := -1000; i <= 1000; i++ {
		if got := NormalizeStatus(i); got < 100 || got > 599 {
			t.Fatalf("NormalizeStatus(%d) = %d out of range", i, got)
		}
	}
}

func TestSuccessDefaults(t *testing.T) {
	r := Success("x", Reply{Body: "{}"})
	if !r.OK || r.Status != 200 {
		t.Fatalf("Success = %+v, want ok 200", r)
	}
	if r.Headers["Content-Type"] != ContentTypeJSON {
		t.Fatalf("default headers = %v", r.Headers)
	}
	sse := Success("x", Reply{Headers: map[string]string{"Content-Type": ContentTypeSSE}})
	if sse.Headers["Content-Type"] != ContentTypeSSE {
		t.Fatalf("explicit headers overridden: %v", sse.Headers)
	}
	odd := Success("x", Reply{Status: 1000})
	if odd.Status != 500 || odd.OK {
		t.Fatalf("out of range reply status = %d ok=%v, want 500 false", odd.Status, odd.OK)
	}
}

func TestResponseWireRoundTrip(t *testing.T) {
	in := Response{
		ID:      "r1",
		OK:      true,
		Status:  201,
		Body:    "data: {\"x\":\"<\\u00e9>\"}\n\n",
		Headers: map[string]string{"Content-Type": ContentTypeSSE, "X-Trace": "t"},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Response
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ID != in.ID || out.OK != in.OK || out.Status != in.Status || out.Body != in.Body {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
	if len(out.Headers) != 2 || out.Headers["X-Trace"] != "t" || out.Headers["Content-Type"] != ContentTypeSSE {
		t.Fatalf("headers = %v", out.Headers)
	}
}

func TestResponseDecodeAppliesDefaults(t *testing.T) {
	var r Response
	if err := json.Unmarshal([]byte(`{"id":"a","ok":false,"status":"teapot","body":"b"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Status != 500 || r.Headers["Content-Type"] != ContentTypeJSON {
		t.Fatalf("decoded %+v, want status 500 and JSON content type", r)
	}
}

func TestFailureBody(t *testing.T) {
	r := Failure("id", `upstream said "no"`)
	if r.OK || r.Status != 500 {
		t.Fatalf("Failure = %+v", r)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(r.Body), &m); err != nil || m["message"] != `upstream said "no"` {
		t.Fatalf("Failure body = %q (%v)", r.Body, err)
	}
	if blank := Failure("id", "  "); !strings.Contains(blank.Body, "request failed") {
		t.Fatalf("blank message body = %q", blank.Body)
	}
}

func TestEndpointsMatch(t *testing.T) {
	eps := NewEndpoints("https://oss-ai.excalidraw.com/v1/ai")
	cases := []struct {
		url  string
		want RequestType
		ok   bool
	}{
		{"https://oss-ai.excalidraw.com/v1/ai/diagram-to-code/generate", TypeDiagramToCode, true},
		{"https://oss-ai.excalidraw.com/v1/ai/text-to-diagram/chat-streaming", TypeTextToDiagram, true},
		{"https://oss-ai.excalidraw.com/v1/ai/text-to-diagram/generate", TypeTextToDiagram, true},
		{"https://oss-ai.excalidraw.com/v1/other", "", false},
		{"https://example.com/v1/ai/diagram-to-code/generate", "", false},
	}
	for _, tc := range cases {
		got, ok := eps.Match(tc.url)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Match(%q) = %q,%v want %q,%v", tc.url, got, ok, tc.want, tc.ok)
		}
	}
	if !IsStreaming("https://x/v1/ai/text-to-diagram/chat-streaming") || IsStreaming("https://x/v1/ai/text-to-diagram/generate") {
		t.Fatalf("IsStreaming mismatch")
	}
}
