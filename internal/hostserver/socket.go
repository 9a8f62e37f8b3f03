/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package hostserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"excalidesk/internal/bridge"
	applog "excalidesk/internal/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	maxFrameSize = 32 << 20
	outboxSize   = 64
)

var errConnClosed = errors.New("page connection closed")

// envelope is the frame exchanged with the page in both directions.
type envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// nativeMessage is a nativeUI payload. Inbound Data is raw JSON.
type nativeMessage struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type nativeRequest struct {
	Action string          `json:"action"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func encodeEnvelope(channel string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Channel: channel, Payload: raw})
}

// conn is one page connection. All writes go through its writer goroutine.
type conn struct {
	id   string
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) send(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop(log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("write to page failed", slog.String("conn", c.id), slog.Any("err", err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) serveSocket(gc *gin.Context) {
	ws, err := s.upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		out:  make(chan []byte, outboxSize),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.log.Info("page connected", slog.String("conn", c.id))

	go c.writeLoop(s.log)
	s.readLoop(applog.ContextWithRequestID(gc.Request.Context(), c.id), c)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.close()
	s.log.Info("page disconnected", slog.String("conn", c.id))
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	sink := bridge.SinkFunc(func(resp bridge.Response) error {
		frame, err := encodeEnvelope(ChannelAIBridge, resp)
		if err != nil {
			return err
		}
		return c.send(frame)
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("page connection lost", slog.String("conn", c.id), slog.Any("err", err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("dropping malformed frame", slog.String("conn", c.id), slog.Any("err", err))
			continue
		}
		switch env.Channel {
		case ChannelAIBridge:
			_ = s.opts.Correlator.Submit(ctx, env.Payload, sink)
		case ChannelNativeUI:
			go s.dispatchAction(ctx, c, env.Payload)
		default:
			s.log.Warn("dropping frame on unknown channel", slog.String("channel", env.Channel))
		}
	}
}

func (s *Server) dispatchAction(ctx context.Context, c *conn, raw json.RawMessage) {
	var req nativeRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Action == "" {
		s.log.Warn("dropping malformed nativeUI message", slog.String("conn", c.id))
		return
	}
	fn, ok := s.action(req.Action)
	if !ok {
		s.log.Warn("unhandled nativeUI action", slog.String("action", req.Action))
		s.reply(c, nativeMessage{Action: req.Action, ID: req.ID, Error: "unsupported action"})
		return
	}
	result, err := s.runAction(ctx, fn, req)
	if err != nil {
		s.log.WarnContext(ctx, "nativeUI action failed", slog.String("action", req.Action), slog.Any("err", err))
		s.reply(c, nativeMessage{Action: req.Action, ID: req.ID, Error: err.Error()})
		return
	}
	if result != nil || req.ID != "" {
		s.reply(c, nativeMessage{Action: req.Action, ID: req.ID, Data: result})
	}
}

func (s *Server) runAction(ctx context.Context, fn ActionFunc, req nativeRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", req.Action, r)
		}
	}()
	return fn(ctx, req.Data)
}

func (s *Server) reply(c *conn, msg nativeMessage) {
	frame, err := encodeEnvelope(ChannelNativeUI, msg)
	if err != nil {
		s.log.Error("encode nativeUI reply", slog.Any("err", err))
		return
	}
	_ = c.send(frame)
}
