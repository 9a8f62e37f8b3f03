/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package cloud reports sync residency for drawing files and materializes or evicts local
// copies of files that live in a sync provider.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResourceValues are the per-file sync attributes a provider reports.
type ResourceValues struct {
	IsCloudItem       bool
	IsDownloaded      bool
	DownloadRequested bool
	HasConflict       bool
	IsOutdated        bool
}

// Progress receives the completed fraction of a materialization, in [0,1].
type Progress func(fraction float64)

// Provider is a sync backend. Implementations must be safe for concurrent use.
type Provider interface {
	ResourceValues(ctx context.Context, path string) (ResourceValues, error)
	Materialize(ctx context.Context, path string, progress Progress) error
	EvictLocalCopy(ctx context.Context, path string) error
}

// ErrNotCloudItem is returned when asked to materialize or evict a file the provider does
// not track.
var ErrNotCloudItem = errors.New("not a cloud item")

// Local is the provider for plain local storage: nothing is ever cloud-backed.
type Local struct{}

func (Local) ResourceValues(context.Context, string) (ResourceValues, error) {
	return ResourceValues{}, nil
}

func (Local) Materialize(_ context.Context, path string, _ Progress) error {
	return fmt.Errorf("materialize %s: %w", path, ErrNotCloudItem)
}

func (Local) EvictLocalCopy(_ context.Context, path string) error {
	return fmt.Errorf("evict %s: %w", path, ErrNotCloudItem)
}

// Settings select and configure a provider.
type Settings struct {
	Provider     string // "none" or "s3"
	Root         string
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// New builds the provider named in s.
func New(ctx context.Context, s Settings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", "none", "local":
		return Local{}, nil
	case "s3":
		return NewS3(ctx, S3Config{
			Root:         s.Root,
			Bucket:       s.Bucket,
			Prefix:       s.Prefix,
			Region:       s.Region,
			Endpoint:     s.Endpoint,
			UsePathStyle: s.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown cloud provider %q", s.Provider)
	}
}
