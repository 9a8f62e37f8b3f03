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
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// RequestType names the native handler an intercepted call is routed to.
type RequestType string

const (
	TypeDiagramToCode RequestType = "diagram-to-code"
	TypeTextToDiagram RequestType = "text-to-diagram"
)

// Request is a call diverted from web content. Body is nil when the page sent no textual body.
type Request struct {
	ID     string      `json:"id"`
	Body   *string     `json:"body"`
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Type   RequestType `json:"type"`
}

// BodyString returns the request body or "" when absent.
func (r Request) BodyString() string {
	if r.Body == nil {
		return ""
	}
	return *r.Body
}

// Response is pushed back into web content to settle the pending fetch with the same ID.
type Response struct {
	ID      string            `json:"id"`
	OK      bool              `json:"ok"`
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Reply is what a handler produces on success. Status 0 means 200.
type Reply struct {
	Status  int
	Body    string
	Headers map[string]string
}

const (
	ContentTypeJSON = "application/json"
	ContentTypeSSE  = "text/event-stream"

	// FailureStatus is used for every handler-level failure.
	FailureStatus = 500
)

// NormalizeStatus maps v to a valid HTTP status. Integers in [100,599] pass through; anything
// else (missing, fractional, out of range, not a number) becomes 500.
func NormalizeStatus(v any) int {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return FailureStatus
		}
		f = x
	default:
		return FailureStatus
	}
	if math.IsNaN(f) || f != math.Trunc(f) || f < 100 || f > 599 {
		return FailureStatus
	}
	return int(f)
}

func withDefaultHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return map[string]string{"Content-Type": ContentTypeJSON}
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Success builds the response for a handler reply.
func Success(id string, r Reply) Response {
	status := r.Status
	if status == 0 {
		status = 200
	}
	status = NormalizeStatus(status)
	return Response{
		ID:      id,
		OK:      status >= 200 && status < 300,
		Status:  status,
		Body:    r.Body,
		Headers: withDefaultHeaders(r.Headers),
	}
}

// Failure builds the failed response carrying msg as {"message": msg}.
func Failure(id, msg string) Response {
	if strings.TrimSpace(msg) == "" {
		msg = "request failed"
	}
	b, _ := json.Marshal(map[string]string{"message": msg})
	return Response{
		ID:      id,
		OK:      false,
		Status:  FailureStatus,
		Body:    string(b),
		Headers: withDefaultHeaders(nil),
	}
}

// UnmarshalJSON decodes the wire form, applying the same status and header defaults the
// in-page resolver applies.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w struct {
		ID      string            `json:"id"`
		OK      bool              `json:"ok"`
		Status  any               `json:"status"`
		Body    string            `json:"body"`
		Headers map[string]string `json:"headers"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*r = Response{
		ID:      w.ID,
		OK:      w.OK,
		Status:  NormalizeStatus(w.Status),
		Body:    w.Body,
		Headers: withDefaultHeaders(w.Headers),
	}
	return nil
}

// Sink delivers a response into web content.
type Sink interface {
	Deliver(Response) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Response) error

func (f SinkFunc) Deliver(r Response) error { return f(r) }
