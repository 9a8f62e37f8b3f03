/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func useTempConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	useTempConfigDir(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AI.EndpointBase != DefaultEndpointBase {
		t.Fatalf("AI.EndpointBase = %q, want %q", cfg.AI.EndpointBase, DefaultEndpointBase)
	}
	if cfg.AI.ChunkSize != 80 {
		t.Fatalf("AI.ChunkSize = %d, want 80", cfg.AI.ChunkSize)
	}
	if cfg.Cloud.Root != cfg.Files.DrawingsDir {
		t.Fatalf("Cloud.Root = %q, want drawings dir %q", cfg.Cloud.Root, cfg.Files.DrawingsDir)
	}
	if !cfg.Files.Watch {
		t.Fatalf("Files.Watch should default to true")
	}
}

func TestLoadMergesFileAndKeepsAbsentDefaults(t *testing.T) {
	dir := useTempConfigDir(t)
	yml := []byte("server:\n  addr: 127.0.0.1:9999\ncloud:\n  provider: S3\n  bucket: drawings\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yml, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Server.Addr, "127.0.0.1:9999"; got != want {
		t.Fatalf("Server.Addr = %q, want %q", got, want)
	}
	if cfg.Cloud.Provider != "s3" || cfg.Cloud.Bucket != "drawings" {
		t.Fatalf("cloud not merged: %#v", cfg.Cloud)
	}
	if !cfg.Files.Watch {
		t.Fatalf("absent files.watch should keep the default")
	}
	if cfg.Library.KeepCheckpoint != 50 {
		t.Fatalf("Library.KeepCheckpoint = %d, want 50", cfg.Library.KeepCheckpoint)
	}
}

func TestLoadReportsMalformedFile(t *testing.T) {
	dir := useTempConfigDir(t)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if cfg.Server.Addr == "" {
		t.Fatalf("defaults should still be returned on parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	useTempConfigDir(t)
	t.Setenv(EnvServerAddr, "0.0.0.0:1")
	t.Setenv(EnvAITimeoutMs, "5000")
	t.Setenv(EnvTelemetryOptIn, "yes")
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvLogSource, "1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:1" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.AI.AITimeout().Milliseconds() != 5000 {
		t.Fatalf("AITimeout = %v, want 5s", cfg.AI.AITimeout())
	}
	if !cfg.General.TelemetryOptIn || cfg.Logging.Level != "error" || !cfg.Logging.Source {
		t.Fatalf("env overrides not applied: %#v %#v", cfg.General, cfg.Logging)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	useTempConfigDir(t)
	cfg := Defaults()
	cfg.Files.DrawingsDir = "/tmp/drawings"
	cfg.Files.Watch = false
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Files.DrawingsDir != "/tmp/drawings" || got.Files.Watch {
		t.Fatalf("round trip mismatch: %#v", got.Files)
	}
}
