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
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```mermaid\nflowchart TD\nA-->B\n```": "flowchart TD\nA-->B",
		"```\n<html></html>\n```\n":            "<html></html>",
		"  plain text  ":                       "plain text",
		"```js\n```":                           "",
		"```\n```html\n<p>x</p>\n```\n```":     "<p>x</p>",
		"inline ```code``` stays":              "inline ```code``` stays",
		"```no closing fence\nbody":            "```no closing fence\nbody",
		"```python\nprint(1)```":               "```python\nprint(1)```",
		"":                                     "",
	}
	for in, want := range cases {
		if got := StripCodeFences(in); got != want {
			t.Fatalf("StripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripCodeFencesIsIdempotent(t *testing.T) {
	inputs := []string{
		"```mermaid\nflowchart TD\nA-->B\n```",
		"```\n```html\n<p>x</p>\n```\n```",
		"no fences at all",
		"```\n\n```",
		"  ```a\nb\n```  ",
	}
	for _, in := range inputs {
		once := StripCodeFences(in)
		if twice := StripCodeFences(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestExtractHTML(t *testing.T) {
	cases := map[string]string{
		"Sure! Here it is:\n<!DOCTYPE html><html></html>":      "<!DOCTYPE html><html></html>",
		"```html\nHere you go\n<html lang=\"en\"></html>\n```": "<html lang=\"en\"></html>",
		"<!doctype html>\n<html></html>":                       "<!doctype html>\n<html></html>",
		"<div>fragment only</div>":                             "<div>fragment only</div>",
	}
	for in, want := range cases {
		if got := ExtractHTML(in); got != want {
			t.Fatalf("ExtractHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func decodeSSE(t *testing.T, body string) (content string, frames int) {
	t.Helper()
	if !strings.HasSuffix(body, SSEDone) {
		t.Fatalf("stream does not end with [DONE]: %q", body)
	}
	events := strings.Split(strings.TrimSuffix(body, SSEDone), "\n\n")
	var b strings.Builder
	for _, ev := range events {
		if ev == "" {
			continue
		}
		if !strings.HasPrefix(ev, "data: ") {
			t.Fatalf("event without data prefix: %q", ev)
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(ev, "data: ")), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", ev, err)
		}
		b.WriteString(chunk.Choices[0].Delta.Content)
		frames++
	}
	return b.String(), frames
}

func TestFrameSSEReconstructsInput(t *testing.T) {
	long := strings.Repeat("flowchart TD\nA-->B; ", 30)
	inputs := []string{"", "x", "flowchart TD\nA-->B", long, strings.Repeat("é🙂", 100), "quote \" and </script> & \\n"}
	for _, in := range inputs {
		for _, size := range []int{0, 1, 7, 80, 1000} {
			got, frames := decodeSSE(t, FrameSSE(in, size))
			if got != in {
				t.Fatalf("size %d: reconstructed %q, want %q", size, got, in)
			}
			n := size
			if n <= 0 {
				n = DefaultChunkSize
			}
			runes := utf8.RuneCountInString(in)
			if want := (runes + n - 1) / n; frames != want {
				t.Fatalf("size %d: %d frames, want %d", size, frames, want)
			}
		}
	}
}

func TestFrameSSEEmptyIsOnlyDone(t *testing.T) {
	if got := FrameSSE("", 80); got != SSEDone {
		t.Fatalf("FrameSSE(\"\") = %q, want only the DONE line", got)
	}
}
