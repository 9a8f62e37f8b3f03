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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Secrets is the bundled secret store. It is read from Secrets.plist (XML or binary
// property list) or from a YAML file with the same keys.
type Secrets struct {
	CollabServerURL string `plist:"CollabServerURL" yaml:"CollabServerURL"`
	AICredential    string `plist:"AIAPIKey" yaml:"AIAPIKey"`
	AIBaseURL       string `plist:"AIBaseURL" yaml:"AIBaseURL"`
	AIModel         string `plist:"AIModel" yaml:"AIModel"`
}

const (
	DefaultAIBaseURL = "https://integrate.api.nvidia.com/v1"
	DefaultAIModel   = "moonshotai/kimi-k2.5"
)

// Secret env overrides.
const (
	EnvCollabServerURL = "EXD_COLLAB_SERVER_URL"
	EnvAICredential    = "EXD_AI_API_KEY"
	EnvAIBaseURL       = "EXD_AI_BASE_URL"
	EnvAIModel         = "EXD_AI_MODEL"
)

// ErrMissingCollabServerURL is returned by LoadSecrets when no collaboration server URL is
// configured. The host cannot start without it.
var ErrMissingCollabServerURL = errors.New("collaboration server URL is not configured")

// Service/keys for OS keyring.
const (
	keyringService = "Excalidesk"
	keyringAIKey   = "ai_api_key"
)

// TokenStore abstracts the OS keyring so tests can stub it.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

var tokenStore TokenStore = osKeyring{}

// DefaultSecretsPath returns <config dir>/Secrets.plist.
func DefaultSecretsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "Secrets.plist"), nil
}

// LoadSecrets reads the secret bundle at path (DefaultSecretsPath when empty), applies env
// overrides, falls back to the OS keyring for the AI credential and fills defaults.
// A missing bundle file is not an error by itself; a missing collaboration server URL is.
func LoadSecrets(path string) (Secrets, error) {
	var s Secrets
	if strings.TrimSpace(path) == "" {
		p, err := DefaultSecretsPath()
		if err != nil {
			return s, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if perr := decodeSecrets(path, data, &s); perr != nil {
			return s, fmt.Errorf("parse secrets %s: %w", path, perr)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return s, fmt.Errorf("read secrets: %w", err)
	}

	mergeString(&s.CollabServerURL, os.Getenv(EnvCollabServerURL))
	mergeString(&s.AICredential, os.Getenv(EnvAICredential))
	mergeString(&s.AIBaseURL, os.Getenv(EnvAIBaseURL))
	mergeString(&s.AIModel, os.Getenv(EnvAIModel))

	if strings.TrimSpace(s.AICredential) == "" {
		if tok, kerr := tokenStore.Get(keyringService, keyringAIKey); kerr == nil {
			s.AICredential = strings.TrimSpace(tok)
		}
	}
	if strings.TrimSpace(s.AIBaseURL) == "" {
		s.AIBaseURL = DefaultAIBaseURL
	}
	if strings.TrimSpace(s.AIModel) == "" {
		s.AIModel = DefaultAIModel
	}
	s.AIBaseURL = strings.TrimRight(strings.TrimSpace(s.AIBaseURL), "/")
	if strings.TrimSpace(s.CollabServerURL) == "" {
		return s, ErrMissingCollabServerURL
	}
	return s, nil
}

func decodeSecrets(path string, data []byte, s *Secrets) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, s)
	default:
		_, err := plist.Unmarshal(data, s)
		return err
	}
}

// SetAICredential stores the AI credential in the OS keyring.
func SetAICredential(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("credential is empty")
	}
	return tokenStore.Set(keyringService, keyringAIKey, value)
}

// ClearAICredential removes the AI credential from the OS keyring. Clearing an absent
// credential is not an error.
func ClearAICredential() error {
	if err := tokenStore.Delete(keyringService, keyringAIKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
