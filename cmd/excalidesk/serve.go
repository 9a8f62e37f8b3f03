/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"excalidesk/internal/bridge"
	"excalidesk/internal/genai"
	"excalidesk/internal/hostserver"
	"excalidesk/internal/library"
	"excalidesk/internal/mainloop"
	"excalidesk/internal/watch"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the canvas on loopback with the native bridge",
	Long: `Serve hosts the canvas web content on a loopback address. Requests the canvas makes to
its AI endpoints are answered natively, drawing files are read and written through the
coordinated file layer, and file changes are pushed to the page.

A collaboration server URL must be configured in the secret bundle; an AI credential is
optional and only needed for AI features.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sec, err := rt.secrets(true)
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}
	if sec.AICredential == "" {
		rt.log.Warn("AI credential not configured, AI features will report errors")
	}

	loop := mainloop.New()
	defer loop.Close()

	files, err := rt.coordinator(ctx, loop)
	if err != nil {
		return err
	}
	store, err := rt.openLibrary(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	checkpoints := library.NewService(store, files, rt.cfg.Library.KeepCheckpoint)

	corr := bridge.NewCorrelator(loop)
	rt.pending = corr.Pending
	genai.NewHandlers(rt.aiClient(sec),
		genai.WithChunkSize(rt.cfg.AI.ChunkSize),
		genai.WithEvents(rt.tel),
	).Register(corr)

	srv, err := hostserver.New(hostserver.Options{
		WebRoot:         rt.cfg.Server.WebRoot,
		Endpoints:       bridge.NewEndpoints(rt.cfg.AI.EndpointBase),
		CollabServerURL: sec.CollabServerURL,
		Correlator:      corr,
	})
	if err != nil {
		return err
	}
	acts := &actions{root: rt.cfg.Files.DrawingsDir, files: files, library: store, checkpoints: checkpoints, srv: srv, tel: rt.tel}
	acts.register()
	defer files.Observe(srv.BroadcastFileEvent)()

	addr := serveAddr
	if addr == "" {
		addr = rt.cfg.Server.Addr
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, addr) })
	if rt.cfg.Files.Watch {
		w, err := watch.New(rt.cfg.Files.DrawingsDir, files.Publish)
		if err != nil {
			rt.log.Warn("file watching disabled", slog.Any("err", err))
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	err = g.Wait()
	corr.Wait()
	rt.log.Info("host stopped")
	return err
}
