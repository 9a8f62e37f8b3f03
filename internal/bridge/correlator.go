/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package bridge correlates fetch calls diverted from the embedded canvas with the native
// handlers that answer them, and settles each call exactly once.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	applog "excalidesk/internal/log"
)

// Handler answers one diverted request. A returned error becomes a failed Response.
type Handler interface {
	Handle(ctx context.Context, req Request) (Reply, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }

// Poster runs functions on the UI-affine context.
type Poster interface {
	Post(fn func()) bool
}

type pending struct {
	req  Request
	sink Sink
}

// Correlator owns the pending-request map. Handler work runs concurrently; delivery is posted
// to the UI loop.
type Correlator struct {
	mu       sync.Mutex
	pending  map[string]*pending
	handlers map[RequestType]Handler
	ui       Poster
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewCorrelator returns a correlator delivering responses through ui.
func NewCorrelator(ui Poster) *Correlator {
	return &Correlator{
		pending:  make(map[string]*pending),
		handlers: make(map[RequestType]Handler),
		ui:       ui,
		log:      applog.WithComponent("bridge"),
	}
}

// Register installs the handler for t, replacing any previous one.
func (c *Correlator) Register(t RequestType, h Handler) {
	c.mu.Lock()
	c.handlers[t] = h
	c.mu.Unlock()
}

// Submit decodes raw and starts handling it. On decode failure the message is logged and
// dropped; nothing is resolved and the error is returned for the caller's information.
func (c *Correlator) Submit(ctx context.Context, raw []byte, sink Sink) error {
	req, err := DecodeRequest(raw)
	if err != nil {
		c.log.Warn("dropping undecodable bridge message", slog.Any("err", err), slog.Int("bytes", len(raw)))
		return err
	}
	c.Dispatch(ctx, req, sink)
	return nil
}

// Dispatch registers req as pending and runs its handler. A pending entry with the same ID is
// replaced; its eventual result is dropped.
func (c *Correlator) Dispatch(ctx context.Context, req Request, sink Sink) {
	p := &pending{req: req, sink: sink}

	c.mu.Lock()
	if _, dup := c.pending[req.ID]; dup {
		c.log.Warn("correlation id reused, earlier request dropped", slog.String("id", req.ID))
	}
	c.pending[req.ID] = p
	h := c.handlers[req.Type]
	c.mu.Unlock()

	// Requests are not cancelled when the caller goes away.
	hctx := applog.ContextWithRequestID(context.WithoutCancel(ctx), req.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resolve(p, c.run(hctx, h, req))
	}()
}

func (c *Correlator) run(ctx context.Context, h Handler, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			c.log.ErrorContext(ctx, "bridge handler panicked", slog.Any("panic", r))
			resp = Failure(req.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	if h == nil {
		return Failure(req.ID, fmt.Sprintf("unsupported request type %q", req.Type))
	}
	reply, err := h.Handle(ctx, req)
	if err != nil {
		c.log.WarnContext(ctx, "bridge request failed", slog.String("type", string(req.Type)), slog.Any("err", err))
		return Failure(req.ID, err.Error())
	}
	return Success(req.ID, reply)
}

// resolve settles p at most once. It reports whether the response was handed to the UI loop.
func (c *Correlator) resolve(p *pending, resp Response) bool {
	c.mu.Lock()
	cur, ok := c.pending[p.req.ID]
	if !ok || cur != p {
		c.mu.Unlock()
		c.log.Info("dropping response for replaced or settled request", slog.String("id", p.req.ID))
		return false
	}
	delete(c.pending, p.req.ID)
	c.mu.Unlock()

	posted := c.ui.Post(func() {
		if err := p.sink.Deliver(resp); err != nil {
			c.log.Warn("bridge delivery failed", slog.String("id", resp.ID), slog.Any("err", err))
		}
	})
	if !posted {
		c.log.Warn("ui loop closed, response not delivered", slog.String("id", resp.ID))
	}
	return posted
}

// Pending returns the number of unresolved requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Wait blocks until every running handler has resolved.
func (c *Correlator) Wait() { c.wg.Wait() }
