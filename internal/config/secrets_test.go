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
	"testing"

	"github.com/zalando/go-keyring"
)

type memStore struct{ m map[string]string }

func (s *memStore) Get(service, key string) (string, error) {
	v, ok := s.m[service+"/"+key]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}
func (s *memStore) Set(service, key, value string) error {
	s.m[service+"/"+key] = value
	return nil
}
func (s *memStore) Delete(service, key string) error {
	if _, ok := s.m[service+"/"+key]; !ok {
		return keyring.ErrNotFound
	}
	delete(s.m, service+"/"+key)
	return nil
}

func stubKeyring(t *testing.T) *memStore {
	t.Helper()
	old := tokenStore
	s := &memStore{m: map[string]string{}}
	tokenStore = s
	t.Cleanup(func() { tokenStore = old })
	return s
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvCollabServerURL, EnvAICredential, EnvAIBaseURL, EnvAIModel} {
		t.Setenv(k, "")
	}
}

const secretsPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CollabServerURL</key>
	<string>https://collab.example.test</string>
	<key>AIAPIKey</key>
	<string>nv-secret</string>
</dict>
</plist>
`

func TestLoadSecretsFromPlistFillsDefaults(t *testing.T) {
	stubKeyring(t)
	clearSecretEnv(t)
	path := filepath.Join(t.TempDir(), "Secrets.plist")
	if err := os.WriteFile(path, []byte(secretsPlist), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSecrets(path)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.CollabServerURL != "https://collab.example.test" || s.AICredential != "nv-secret" {
		t.Fatalf("unexpected secrets: %#v", s)
	}
	if s.AIBaseURL != DefaultAIBaseURL || s.AIModel != DefaultAIModel {
		t.Fatalf("defaults not applied: %#v", s)
	}
}

func TestLoadSecretsFromYAMLAndEnv(t *testing.T) {
	stubKeyring(t)
	clearSecretEnv(t)
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(path, []byte("CollabServerURL: https://a.test\nAIBaseURL: https://llm.test/v1/\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAIModel, "my/model")
	s, err := LoadSecrets(path)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.AIBaseURL != "https://llm.test/v1" {
		t.Fatalf("AIBaseURL = %q, want trailing slash trimmed", s.AIBaseURL)
	}
	if s.AIModel != "my/model" {
		t.Fatalf("AIModel = %q, want env override", s.AIModel)
	}
	if s.AICredential != "" {
		t.Fatalf("AICredential = %q, want empty", s.AICredential)
	}
}

func TestLoadSecretsMissingCollabURLIsFatal(t *testing.T) {
	stubKeyring(t)
	clearSecretEnv(t)
	_, err := LoadSecrets(filepath.Join(t.TempDir(), "absent.plist"))
	if !errors.Is(err, ErrMissingCollabServerURL) {
		t.Fatalf("err = %v, want ErrMissingCollabServerURL", err)
	}
}

func TestLoadSecretsMissingCredentialIsNotAnError(t *testing.T) {
	stubKeyring(t)
	clearSecretEnv(t)
	t.Setenv(EnvCollabServerURL, "https://collab.test")
	s, err := LoadSecrets(filepath.Join(t.TempDir(), "absent.plist"))
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.AICredential != "" {
		t.Fatalf("expected empty credential, got %q", s.AICredential)
	}
}

func TestKeyringCredentialFallback(t *testing.T) {
	stubKeyring(t)
	clearSecretEnv(t)
	t.Setenv(EnvCollabServerURL, "https://collab.test")
	if err := SetAICredential("  from-keyring "); err != nil {
		t.Fatalf("SetAICredential: %v", err)
	}
	s, err := LoadSecrets(filepath.Join(t.TempDir(), "absent.plist"))
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.AICredential != "from-keyring" {
		t.Fatalf("AICredential = %q, want from-keyring", s.AICredential)
	}
	if err := ClearAICredential(); err != nil {
		t.Fatalf("ClearAICredential: %v", err)
	}
	if err := ClearAICredential(); err != nil {
		t.Fatalf("second ClearAICredential should be a no-op: %v", err)
	}
}
