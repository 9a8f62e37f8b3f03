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

import "strings"

// StreamingMarker in a request URL selects SSE framing for text-to-diagram.
const StreamingMarker = "chat-streaming"

// Endpoint is one intercepted URL prefix.
type Endpoint struct {
	Prefix string      `json:"prefix"`
	Type   RequestType `json:"type"`
}

// Endpoints is the ordered set of intercepted prefixes.
type Endpoints []Endpoint

// NewEndpoints derives the intercepted prefixes from the canvas AI base URL.
func NewEndpoints(base string) Endpoints {
	base = strings.TrimSpace(base)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return Endpoints{
		{Prefix: base + string(TypeDiagramToCode) + "/", Type: TypeDiagramToCode},
		{Prefix: base + string(TypeTextToDiagram) + "/", Type: TypeTextToDiagram},
	}
}

// Match reports the request type for url, or false when the call must pass through.
func (e Endpoints) Match(url string) (RequestType, bool) {
	for _, ep := range e {
		if strings.HasPrefix(url, ep.Prefix) {
			return ep.Type, true
		}
	}
	return "", false
}

// IsStreaming reports whether url asks for a streamed chat response.
func IsStreaming(url string) bool { return strings.Contains(url, StreamingMarker) }
