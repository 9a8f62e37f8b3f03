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
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
// Secrets (AI credential, collaboration server) live in the secret bundle, see secrets.go.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	WebRoot string `yaml:"web_root"` // directory holding the canvas index.html
}

type FilesConfig struct {
	DrawingsDir string `yaml:"drawings_dir"`
	LockDir     string `yaml:"lock_dir"`
	TrashDir    string `yaml:"trash_dir"` // empty: platform trash
	Watch       bool   `yaml:"watch"`
}

type LibraryConfig struct {
	DSN            string `yaml:"dsn"` // sqlite file path or postgres:// URL
	KeepCheckpoint int    `yaml:"keep_checkpoints"`
}

// CloudConfig selects the sync provider for the drawings directory.
type CloudConfig struct {
	Provider     string `yaml:"provider"` // "none" | "s3"
	Root         string `yaml:"root"`     // local sync root; defaults to files.drawings_dir
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type AIConfig struct {
	EndpointBase string  `yaml:"endpoint_base"` // URL prefix intercepted inside the canvas
	Temperature  float64 `yaml:"temperature"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	ChunkSize    int     `yaml:"sse_chunk_size"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	SecretsPath    string `yaml:"secrets_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Server        ServerConfig  `yaml:"server"`
	Files         FilesConfig   `yaml:"files"`
	Library       LibraryConfig `yaml:"library"`
	Cloud         CloudConfig   `yaml:"cloud"`
	AI            AIConfig      `yaml:"ai"`
	Logging       LoggingConfig `yaml:"logging"`
}

// DefaultEndpointBase is the prefix the canvas uses for its AI features.
const DefaultEndpointBase = "https://oss-ai.excalidraw.com/v1/ai/"

// Defaults returns the application defaults.
func Defaults() AppConfig {
	data := dataDir()
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Server:        ServerConfig{Addr: "127.0.0.1:7531", WebRoot: filepath.Join(data, "web")},
		Files: FilesConfig{
			DrawingsDir: filepath.Join(homeDir(), "Documents", "Excalidesk"),
			LockDir:     filepath.Join(data, "locks"),
			Watch:       true,
		},
		Library: LibraryConfig{DSN: filepath.Join(data, "library.sqlite"), KeepCheckpoint: 50},
		Cloud:   CloudConfig{Provider: "none"},
		AI:      AIConfig{EndpointBase: DefaultEndpointBase, Temperature: 0.2, TimeoutMs: 120000, ChunkSize: 80},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvServerAddr     = "EXD_SERVER_ADDR"
	EnvWebRoot        = "EXD_WEB_ROOT"
	EnvDrawingsDir    = "EXD_DRAWINGS_DIR"
	EnvLibraryDSN     = "EXD_LIBRARY_DSN"
	EnvCloudProvider  = "EXD_CLOUD_PROVIDER"
	EnvCloudBucket    = "EXD_CLOUD_BUCKET"
	EnvAITimeoutMs    = "EXD_AI_TIMEOUT_MS"
	EnvTelemetryOptIn = "EXD_TELEMETRY_OPT_IN"
	EnvSecretsPath    = "EXD_SECRETS"
	EnvLogLevel       = "EXD_LOG_LEVEL"
	EnvLogFormat      = "EXD_LOG_FORMAT"
	EnvLogSource      = "EXD_LOG_SOURCE"
	EnvLogFile        = "EXD_LOG_FILE"
	// EnvConfigDir relocates the per-user config directory (tests, portable installs).
	EnvConfigDir = "EXD_CONFIG_DIR"
)

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return os.TempDir()
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvConfigDir)); v != "" {
		return v, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Excalidesk")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Excalidesk")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "excalidesk")
		} else if h := os.Getenv("HOME"); h != "" {
			base = filepath.Join(h, ".config", "excalidesk")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func dataDir() string {
	if dir, err := ConfigDir(); err == nil {
		return dir
	}
	return filepath.Join(os.TempDir(), "excalidesk")
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// A malformed file is reported but the defaults-plus-env config is still returned.
func Load() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	var parseErr error
	if data, err := os.ReadFile(path); err == nil {
		// start from defaults so keys absent from the file keep their default values
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			parseErr = err
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.Cloud.Root == "" {
		cfg.Cloud.Root = cfg.Files.DrawingsDir
	}
	return cfg, parseErr
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeString(dst *string, src string) {
	if s := strings.TrimSpace(src); s != "" {
		*dst = s
	}
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans are copied directly so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	mergeString(&dst.General.SecretsPath, src.General.SecretsPath)

	mergeString(&dst.Server.Addr, src.Server.Addr)
	mergeString(&dst.Server.WebRoot, src.Server.WebRoot)

	mergeString(&dst.Files.DrawingsDir, src.Files.DrawingsDir)
	mergeString(&dst.Files.LockDir, src.Files.LockDir)
	mergeString(&dst.Files.TrashDir, src.Files.TrashDir)
	dst.Files.Watch = src.Files.Watch

	mergeString(&dst.Library.DSN, src.Library.DSN)
	if src.Library.KeepCheckpoint > 0 {
		dst.Library.KeepCheckpoint = src.Library.KeepCheckpoint
	}

	if p := strings.ToLower(strings.TrimSpace(src.Cloud.Provider)); p != "" {
		dst.Cloud.Provider = p
	}
	mergeString(&dst.Cloud.Root, src.Cloud.Root)
	mergeString(&dst.Cloud.Bucket, src.Cloud.Bucket)
	mergeString(&dst.Cloud.Prefix, src.Cloud.Prefix)
	mergeString(&dst.Cloud.Region, src.Cloud.Region)
	mergeString(&dst.Cloud.Endpoint, src.Cloud.Endpoint)
	dst.Cloud.UsePathStyle = src.Cloud.UsePathStyle

	mergeString(&dst.AI.EndpointBase, src.AI.EndpointBase)
	if src.AI.Temperature > 0 {
		dst.AI.Temperature = src.AI.Temperature
	}
	if src.AI.TimeoutMs > 0 {
		dst.AI.TimeoutMs = src.AI.TimeoutMs
	}
	if src.AI.ChunkSize > 0 {
		dst.AI.ChunkSize = src.AI.ChunkSize
	}

	if s := strings.TrimSpace(src.Logging.Level); s != "" {
		dst.Logging.Level = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Logging.Format); s != "" {
		dst.Logging.Format = strings.ToLower(s)
	}
	dst.Logging.Source = src.Logging.Source
	mergeString(&dst.Logging.File, src.Logging.File)
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	mergeString(&cfg.Server.Addr, os.Getenv(EnvServerAddr))
	mergeString(&cfg.Server.WebRoot, os.Getenv(EnvWebRoot))
	mergeString(&cfg.Files.DrawingsDir, os.Getenv(EnvDrawingsDir))
	mergeString(&cfg.Library.DSN, os.Getenv(EnvLibraryDSN))
	if v := strings.TrimSpace(os.Getenv(EnvCloudProvider)); v != "" {
		cfg.Cloud.Provider = strings.ToLower(v)
	}
	mergeString(&cfg.Cloud.Bucket, os.Getenv(EnvCloudBucket))
	if v := strings.TrimSpace(os.Getenv(EnvAITimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AI.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	mergeString(&cfg.General.SecretsPath, os.Getenv(EnvSecretsPath))
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	mergeString(&cfg.Logging.File, os.Getenv(EnvLogFile))
}

// AITimeout returns the upstream request timeout.
func (a AIConfig) AITimeout() time.Duration {
	if a.TimeoutMs <= 0 {
		return time.Duration(Defaults().AI.TimeoutMs) * time.Millisecond
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}
