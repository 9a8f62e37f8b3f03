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
)

// StripCodeFences removes a Markdown fence wrapping the whole text, including an optional
// info string on the opening fence. Text without such a wrapping is returned trimmed.
// Applying it to its own output changes nothing.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	for {
		if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
			return s
		}
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return s
		}
		inner := s[nl+1 : len(s)-3]
		// Only strip when the closing fence sits on its own line.
		if inner != "" && !strings.HasSuffix(inner, "\n") {
			return s
		}
		s = strings.TrimSpace(inner)
	}
}

// ExtractHTML strips fences and drops commentary before the document start.
func ExtractHTML(text string) string {
	s := StripCodeFences(text)
	lower := strings.ToLower(s)
	for _, marker := range []string{"<!doctype", "<html"} {
		if i := strings.Index(lower, marker); i > 0 {
			return strings.TrimSpace(s[i:])
		} else if i == 0 {
			return s
		}
	}
	return s
}

const DefaultChunkSize = 80

type sseChunk struct {
	Choices []sseChoice `json:"choices"`
}

type sseChoice struct {
	Delta sseDelta `json:"delta"`
}

type sseDelta struct {
	Content string `json:"content"`
}

// SSEDone terminates every framed stream.
const SSEDone = "data: [DONE]\n\n"

// SSEFrames splits text into chunks of at most chunkSize runes and frames each as a
// chat-streaming delta event, followed by the [DONE] marker. chunkSize <= 0 means 80.
func SSEFrames(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	runes := []rune(text)
	frames := make([]string, 0, len(runes)/chunkSize+2)
	for start := 0; start < len(runes); start += chunkSize {
		end := min(start+chunkSize, len(runes))
		b, _ := json.Marshal(sseChunk{Choices: []sseChoice{{Delta: sseDelta{Content: string(runes[start:end])}}}})
		frames = append(frames, "data: "+string(b)+"\n\n")
	}
	return append(frames, SSEDone)
}

// FrameSSE returns the concatenated SSE body for text.
func FrameSSE(text string, chunkSize int) string {
	return strings.Join(SSEFrames(text, chunkSize), "")
}
