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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"excalidesk/internal/cloud"
	"excalidesk/internal/config"
	"excalidesk/internal/filecoord"
	"excalidesk/internal/genai"
	"excalidesk/internal/library"
	applog "excalidesk/internal/log"
	"excalidesk/internal/telemetry"
)

// app is the per-invocation wiring shared by all commands.
type app struct {
	cfg config.AppConfig
	log *slog.Logger
	tel *telemetry.Client

	pending func() int
}

var rt *app

var rootCmd = &cobra.Command{
	Use:           "excalidesk",
	Short:         "Excalidraw desktop host with native AI generation and coordinated drawing files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		rt = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rt.tel.Flush(ctx)
		rt.tel.Close()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("cli")
	if err != nil {
		// Defaults plus env still apply.
		l.Warn("config file could not be read", slog.Any("err", err))
	}
	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	tel := telemetry.New(tcfg)
	telemetry.SetDefault(tel)
	return &app{cfg: cfg, log: l, tel: tel}, nil
}

func (a *app) provider(ctx context.Context) (cloud.Provider, error) {
	c := a.cfg.Cloud
	return cloud.New(ctx, cloud.Settings{
		Provider:     c.Provider,
		Root:         c.Root,
		Bucket:       c.Bucket,
		Prefix:       c.Prefix,
		Region:       c.Region,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.UsePathStyle,
	})
}

// coordinator builds the file coordinator; ui may be nil for one-shot commands.
func (a *app) coordinator(ctx context.Context, ui filecoord.Poster) (*filecoord.Coordinator, error) {
	p, err := a.provider(ctx)
	if err != nil {
		return nil, err
	}
	return filecoord.New(filecoord.Options{
		LockDir:  a.cfg.Files.LockDir,
		Provider: p,
		UI:       ui,
		TrashDir: a.cfg.Files.TrashDir,
	})
}

func (a *app) openLibrary(ctx context.Context) (*library.Store, error) {
	return library.Open(ctx, a.cfg.Library.DSN)
}

// secrets loads the secret bundle. requireCollab makes a missing collaboration URL fatal.
func (a *app) secrets(requireCollab bool) (config.Secrets, error) {
	sec, err := config.LoadSecrets(a.cfg.General.SecretsPath)
	if errors.Is(err, config.ErrMissingCollabServerURL) && !requireCollab {
		return sec, nil
	}
	return sec, err
}

func (a *app) aiClient(sec config.Secrets) *genai.Client {
	return genai.NewClient(genai.Options{
		BaseURL:     sec.AIBaseURL,
		Model:       sec.AIModel,
		Credential:  sec.AICredential,
		Temperature: a.cfg.AI.Temperature,
		Timeout:     time.Duration(a.cfg.AI.TimeoutMs) * time.Millisecond,
	})
}

func crashDetails() map[string]string {
	d := map[string]string{}
	if rt == nil {
		return d
	}
	d["DrawingsDir"] = rt.cfg.Files.DrawingsDir
	d["CloudProvider"] = rt.cfg.Cloud.Provider
	if rt.pending != nil {
		d["PendingBridgeRequests"] = strconv.Itoa(rt.pending())
	}
	return d
}
