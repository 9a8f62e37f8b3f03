/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package hostserver serves the canvas web content on loopback and carries the message
// channels between that content and native code over a websocket.
package hostserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"excalidesk/internal/bridge"
	"excalidesk/internal/filecoord"
	applog "excalidesk/internal/log"
)

const (
	ShimPath   = "/__excalidesk/shim.js"
	SocketPath = "/__excalidesk/ws"

	// BridgeMarker is replaced by the shim script tag in index.html.
	BridgeMarker = "<!-- EXCALIDESK_BRIDGE -->"

	ChannelNativeUI = "nativeUI"
	ChannelAIBridge = "aiBridge"
)

// ActionFunc handles one nativeUI action. A non-nil result is sent back to the page.
type ActionFunc func(ctx context.Context, data json.RawMessage) (any, error)

// Options configure a Server.
type Options struct {
	WebRoot         string
	Endpoints       bridge.Endpoints
	CollabServerURL string
	Correlator      *bridge.Correlator
}

// Server is the loopback host for the canvas.
type Server struct {
	opts     Options
	engine   *gin.Engine
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	conns   map[*conn]struct{}
	actions map[string]ActionFunc
}

// New builds the router. Correlator is required.
func New(opts Options) (*Server, error) {
	if opts.Correlator == nil {
		return nil, errors.New("hostserver: correlator is required")
	}
	s := &Server{
		opts:    opts,
		log:     applog.WithComponent("hostserver"),
		conns:   make(map[*conn]struct{}),
		actions: make(map[string]ActionFunc),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return allowedOrigin(r.Header.Get("Origin")) },
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: allowedOrigin,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
		MaxAge:          10 * time.Minute,
	}))
	r.GET("/", s.serveIndex)
	r.GET("/index.html", s.serveIndex)
	r.GET(ShimPath, s.serveShim)
	r.GET(SocketPath, s.serveSocket)
	r.GET("/healthz", s.health)
	if opts.WebRoot != "" {
		files := http.FileServer(http.Dir(opts.WebRoot))
		r.NoRoute(gin.WrapH(files))
	}
	s.engine = r
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// HandleAction registers fn for a nativeUI action name.
func (s *Server) HandleAction(action string, fn ActionFunc) {
	s.mu.Lock()
	s.actions[action] = fn
	s.mu.Unlock()
}

func (s *Server) action(name string) (ActionFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.actions[name]
	return fn, ok
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("host server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Connections returns the number of open page connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// BroadcastFileEvent pushes a fileChanged notification to every connected page.
func (s *Server) BroadcastFileEvent(ev filecoord.Event) {
	s.Broadcast(ChannelNativeUI, nativeMessage{Action: "fileChanged", Data: ev})
}

// Broadcast sends payload on channel to every connected page.
func (s *Server) Broadcast(channel string, payload any) {
	frame, err := encodeEnvelope(channel, payload)
	if err != nil {
		s.log.Error("encode broadcast", slog.String("channel", channel), slog.Any("err", err))
		return
	}
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.send(frame)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *Server) serveIndex(c *gin.Context) {
	data, err := os.ReadFile(filepath.Join(s.opts.WebRoot, "index.html"))
	if err != nil {
		s.log.Error("load index.html", slog.String("web_root", s.opts.WebRoot), slog.Any("err", err))
		c.String(http.StatusInternalServerError, "Failed to load index.html")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(InjectShim(string(data))))
}

// InjectShim inserts the shim script tag at the bridge marker, or before </head>, or at the
// top of the document.
func InjectShim(html string) string {
	tag := `<script src="` + ShimPath + `"></script>`
	if strings.Contains(html, BridgeMarker) {
		return strings.Replace(html, BridgeMarker, tag, 1)
	}
	if i := strings.Index(strings.ToLower(html), "</head>"); i >= 0 {
		return html[:i] + tag + html[i:]
	}
	return tag + html
}

func (s *Server) serveShim(c *gin.Context) {
	js, err := bridge.RenderShim(bridge.ShimOptions{
		Endpoints:       s.opts.Endpoints,
		CollabServerURL: s.opts.CollabServerURL,
		SocketPath:      SocketPath,
	})
	if err != nil {
		s.log.Error("render shim", slog.Any("err", err))
		c.String(http.StatusInternalServerError, "Failed to render bridge script")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/javascript; charset=utf-8", js)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"pending":     s.opts.Correlator.Pending(),
		"connections": s.Connections(),
	})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

// allowedOrigin admits requests without an Origin and loopback origins only.
func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
