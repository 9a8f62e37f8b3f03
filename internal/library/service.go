/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"excalidesk/internal/filecoord"
)

// Files is the coordinated file access the service reads and writes drawings through.
type Files interface {
	Read(ctx context.Context, path string, opts filecoord.ReadOptions) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
}

// Service checkpoints drawing files into the store and restores them.
type Service struct {
	store *Store
	files Files
	keep  int
	now   func() time.Time
}

// NewService returns a service keeping at most keep checkpoints per drawing (0 keeps all).
func NewService(store *Store, files Files, keep int) *Service {
	return &Service{store: store, files: files, keep: keep, now: time.Now}
}

// Catalogue returns the drawing at path, adding it to the library if needed.
func (s *Service) Catalogue(ctx context.Context, path string) (Drawing, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Drawing{}, err
	}
	d, err := s.store.DrawingByPath(ctx, abs)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Drawing{}, err
	}
	d = Drawing{
		Name:      strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		Path:      abs,
		UpdatedAt: s.now(),
	}
	if err := s.store.SaveDrawing(ctx, &d); err != nil {
		return Drawing{}, err
	}
	return d, nil
}

// Checkpoint reads the drawing at path through the coordinator and stores its contents.
func (s *Service) Checkpoint(ctx context.Context, path string) (Checkpoint, error) {
	d, err := s.Catalogue(ctx, path)
	if err != nil {
		return Checkpoint{}, err
	}
	data, err := s.files.Read(ctx, d.Path, filecoord.ReadOptions{})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read drawing: %w", err)
	}
	now := s.now()
	cp, err := s.store.SaveCheckpoint(ctx, d.ID, data, now)
	if err != nil {
		return Checkpoint{}, err
	}
	d.UpdatedAt = now
	if err := s.store.SaveDrawing(ctx, &d); err != nil {
		return Checkpoint{}, err
	}
	if pruned, err := s.store.PruneCheckpoints(ctx, d.ID, s.keep); err != nil {
		s.store.log.WarnContext(ctx, "prune checkpoints failed", slog.String("drawing", d.ID), slog.Any("err", err))
	} else if pruned > 0 {
		s.store.log.DebugContext(ctx, "pruned checkpoints", slog.String("drawing", d.ID), slog.Int64("count", pruned))
	}
	return cp, nil
}

// Restore writes a checkpoint's contents back to its drawing's path.
func (s *Service) Restore(ctx context.Context, checkpointID string) (Drawing, error) {
	cp, err := s.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return Drawing{}, fmt.Errorf("checkpoint %s: %w", checkpointID, err)
	}
	d, err := s.store.GetDrawing(ctx, cp.DrawingID)
	if err != nil {
		return Drawing{}, fmt.Errorf("drawing %s: %w", cp.DrawingID, err)
	}
	if err := s.files.Write(ctx, d.Path, cp.Data); err != nil {
		return Drawing{}, fmt.Errorf("restore drawing: %w", err)
	}
	return d, nil
}

// History lists the checkpoints of the drawing at path, newest first.
func (s *Service) History(ctx context.Context, path string, limit int) ([]Checkpoint, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	d, err := s.store.DrawingByPath(ctx, abs)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.ListCheckpoints(ctx, d.ID, limit)
}
