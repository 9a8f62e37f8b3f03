/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package filecoord gives serialized, cross-process coordinated access to drawing files that
// may be local or materialized on demand from a sync provider. Concurrent reads of the same
// path share one underlying operation.
package filecoord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"excalidesk/internal/cloud"
	applog "excalidesk/internal/log"
)

// CloudFileStatus is derived on every call from provider metadata.
type CloudFileStatus string

const (
	StatusLocalOnly  CloudFileStatus = "local-only"
	StatusDownloaded CloudFileStatus = "downloaded"
	StatusOutdated   CloudFileStatus = "outdated"
	StatusConflict   CloudFileStatus = "conflict"
)

// EventKind classifies an observed change.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventModified
	EventDeleted
	EventMoved
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventMoved:
		return "moved"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event reports a change made through the coordinator or seen by a watcher.
type Event struct {
	Kind    EventKind `json:"kind"`
	Path    string    `json:"path"`
	OldPath string    `json:"oldPath,omitempty"`
}

// Poster runs functions on the UI-affine context.
type Poster interface {
	Post(fn func()) bool
}

type directPoster struct{}

func (directPoster) Post(fn func()) bool { fn(); return true }

// Options configure a Coordinator.
type Options struct {
	// LockDir holds the cross-process lock files. Required.
	LockDir string
	// Provider reports cloud residency. Nil means cloud.Local.
	Provider cloud.Provider
	// UI receives progress and observer callbacks. Nil runs them inline.
	UI Poster
	// TrashDir overrides the platform trash with a freedesktop-style trash at this path.
	TrashDir string
}

// ReadOptions control progress reporting for Read.
type ReadOptions struct {
	TrackProgress bool
	OnProgress    func(fraction float64)
}

// Coordinator serializes file operations per path.
type Coordinator struct {
	lockDir  string
	trashDir string
	provider cloud.Provider
	ui       Poster
	log      *slog.Logger

	local *pathLocks
	tasks *tasks

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int

	reads atomic.Int64
}

// New returns a coordinator. The lock directory is created if missing.
func New(opts Options) (*Coordinator, error) {
	if opts.LockDir == "" {
		return nil, errors.New("lock directory is required")
	}
	if err := os.MkdirAll(opts.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	c := &Coordinator{
		lockDir:   opts.LockDir,
		trashDir:  opts.TrashDir,
		provider:  opts.Provider,
		ui:        opts.UI,
		log:       applog.WithComponent("filecoord"),
		local:     newPathLocks(),
		tasks:     newTasks(),
		observers: make(map[int]func(Event)),
	}
	if c.provider == nil {
		c.provider = cloud.Local{}
	}
	if c.ui == nil {
		c.ui = directPoster{}
	}
	return c, nil
}

func absPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Observe registers fn for change events and returns a function that removes it.
func (c *Coordinator) Observe(fn func(Event)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Publish delivers ev to observers on the UI context.
func (c *Coordinator) Publish(ev Event) {
	c.obsMu.Lock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn := fn
		c.ui.Post(func() { fn(ev) })
	}
}

func (c *Coordinator) uiProgress(fn func(float64)) cloud.Progress {
	if fn == nil {
		return nil
	}
	return func(f float64) { c.ui.Post(func() { fn(f) }) }
}

// Read returns the contents of path, materializing a cloud-only file first. Concurrent reads
// of the same path share one underlying read. Once started, the read runs to completion or
// failure regardless of ctx cancellation.
func (c *Coordinator) Read(ctx context.Context, path string, opts ReadOptions) ([]byte, error) {
	abs, err := absPath(path)
	if err != nil {
		return nil, opErr(KindRead, "read", path, err)
	}
	var progress cloud.Progress
	if opts.TrackProgress {
		progress = c.uiProgress(opts.OnProgress)
	}
	// The shared read outlives any single caller; joiners must not see another caller's cancellation.
	shared := context.WithoutCancel(ctx)
	return c.tasks.run(abs, progress, func(p cloud.Progress) ([]byte, error) {
		return c.coordinatedRead(shared, abs, p)
	})
}

func (c *Coordinator) coordinatedRead(ctx context.Context, abs string, progress cloud.Progress) ([]byte, error) {
	rv, err := c.provider.ResourceValues(ctx, abs)
	if err != nil {
		return nil, opErr(KindCoordination, "read", abs, err)
	}
	if rv.IsCloudItem && !rv.IsDownloaded {
		if err := c.materialize(ctx, abs, progress); err != nil {
			return nil, err
		}
	}
	unlock, err := c.lock(ctx, abs, false)
	if err != nil {
		return nil, opErr(KindCoordination, "read", abs, err)
	}
	defer unlock()
	c.reads.Add(1)
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, opErr(KindRead, "read", abs, err)
	}
	return data, nil
}

func (c *Coordinator) materialize(ctx context.Context, abs string, progress cloud.Progress) error {
	unlock, err := c.lock(ctx, abs, true)
	if err != nil {
		return opErr(KindCoordination, "download", abs, err)
	}
	defer unlock()
	// Another process may have finished the download while we waited.
	rv, err := c.provider.ResourceValues(ctx, abs)
	if err != nil {
		return opErr(KindCoordination, "download", abs, err)
	}
	if rv.IsDownloaded {
		return nil
	}
	c.log.InfoContext(ctx, "materializing cloud file", slog.String("path", abs))
	if err := c.provider.Materialize(ctx, abs, progress); err != nil {
		return opErr(KindRead, "download", abs, err)
	}
	return nil
}

// DownloadFile materializes a cloud-resident file and discards its bytes. It returns at once
// for files that are not cloud-resident. A download already running for path is joined.
func (c *Coordinator) DownloadFile(ctx context.Context, path string, onProgress func(float64)) error {
	abs, err := absPath(path)
	if err != nil {
		return opErr(KindRead, "download", path, err)
	}
	rv, err := c.provider.ResourceValues(ctx, abs)
	if err != nil {
		return opErr(KindCoordination, "download", abs, err)
	}
	if !rv.IsCloudItem {
		return nil
	}
	shared := context.WithoutCancel(ctx)
	_, err = c.tasks.run(abs, c.uiProgress(onProgress), func(p cloud.Progress) ([]byte, error) {
		return c.coordinatedRead(shared, abs, p)
	})
	return err
}

// EvictLocalCopy drops the local copy of a cloud-resident file and keeps the remote one. It
// is a no-op for files that are not cloud-resident.
func (c *Coordinator) EvictLocalCopy(ctx context.Context, path string) error {
	abs, err := absPath(path)
	if err != nil {
		return opErr(KindEvict, "evict", path, err)
	}
	rv, err := c.provider.ResourceValues(ctx, abs)
	if err != nil {
		return opErr(KindCoordination, "evict", abs, err)
	}
	if !rv.IsCloudItem {
		return nil
	}
	unlock, err := c.lock(ctx, abs, true)
	if err != nil {
		return opErr(KindCoordination, "evict", abs, err)
	}
	defer unlock()
	if err := c.provider.EvictLocalCopy(ctx, abs); err != nil {
		return opErr(KindEvict, "evict", abs, err)
	}
	return nil
}

// Status reports the sync status of path.
func (c *Coordinator) Status(ctx context.Context, path string) (CloudFileStatus, error) {
	abs, err := absPath(path)
	if err != nil {
		return "", opErr(KindCoordination, "status", path, err)
	}
	rv, err := c.provider.ResourceValues(ctx, abs)
	if err != nil {
		return "", opErr(KindCoordination, "status", abs, err)
	}
	switch {
	case !rv.IsCloudItem:
		return StatusLocalOnly, nil
	case rv.HasConflict:
		return StatusConflict, nil
	case rv.IsOutdated || !rv.IsDownloaded:
		return StatusOutdated, nil
	default:
		return StatusDownloaded, nil
	}
}

// Write stores data at path atomically. An existing file is replaced and observers see
// EventModified; a new file is written in place and observers see EventCreated.
func (c *Coordinator) Write(ctx context.Context, path string, data []byte) error {
	abs, err := absPath(path)
	if err != nil {
		return opErr(KindWrite, "write", path, err)
	}
	unlock, err := c.lock(ctx, abs, true)
	if err != nil {
		return opErr(KindCoordination, "write", abs, err)
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return opErr(KindWrite, "write", abs, err)
	}
	kind := EventModified
	if _, statErr := os.Stat(abs); errors.Is(statErr, os.ErrNotExist) {
		err = writeNew(abs, data)
		if errors.Is(err, os.ErrExist) {
			err = replaceFile(abs, data)
		} else {
			kind = EventCreated
		}
	} else {
		err = replaceFile(abs, data)
	}
	if err != nil {
		return opErr(KindWrite, "write", abs, err)
	}
	c.Publish(Event{Kind: kind, Path: abs})
	return nil
}

// writeNew creates path exclusively and flushes data to disk.
func writeNew(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// replaceFile writes data to a temp file in the same directory and renames it over path.
func replaceFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	temp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	if err := writeNew(temp, data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Chmod(temp, mode); err != nil {
		_ = os.Remove(temp)
		return err
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

// Delete removes path (recursively for directories).
func (c *Coordinator) Delete(ctx context.Context, path string) error {
	abs, err := absPath(path)
	if err != nil {
		return opErr(KindDelete, "delete", path, err)
	}
	unlock, err := c.lock(ctx, abs, true)
	if err != nil {
		return opErr(KindCoordination, "delete", abs, err)
	}
	defer unlock()
	if _, err := os.Lstat(abs); err != nil {
		return opErr(KindDelete, "delete", abs, err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return opErr(KindDelete, "delete", abs, err)
	}
	_ = os.Remove(cloud.SidecarPath(abs))
	c.Publish(Event{Kind: EventDeleted, Path: abs})
	return nil
}

// Move renames src to dst. The destination must not exist.
func (c *Coordinator) Move(ctx context.Context, src, dst string) error {
	absSrc, err := absPath(src)
	if err != nil {
		return opErr(KindMove, "move", src, err)
	}
	absDst, err := absPath(dst)
	if err != nil {
		return opErr(KindMove, "move", dst, err)
	}
	unlock, err := c.lockPair(ctx, absSrc, absDst)
	if err != nil {
		return opErr(KindCoordination, "move", absSrc, err)
	}
	defer unlock()
	if _, err := os.Lstat(absDst); err == nil {
		return opErr(KindMove, "move", absSrc, fmt.Errorf("destination %s: %w", absDst, os.ErrExist))
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return opErr(KindMove, "move", absSrc, err)
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return opErr(KindMove, "move", absSrc, err)
	}
	if _, err := os.Stat(cloud.SidecarPath(absSrc)); err == nil {
		_ = os.Rename(cloud.SidecarPath(absSrc), cloud.SidecarPath(absDst))
	}
	c.Publish(Event{Kind: EventMoved, Path: absDst, OldPath: absSrc})
	return nil
}

// CreateDirectory creates path, and missing parents when intermediates is set.
func (c *Coordinator) CreateDirectory(ctx context.Context, path string, intermediates bool) error {
	abs, err := absPath(path)
	if err != nil {
		return opErr(KindCreateDirectory, "mkdir", path, err)
	}
	unlock, err := c.lock(ctx, abs, true)
	if err != nil {
		return opErr(KindCoordination, "mkdir", abs, err)
	}
	defer unlock()
	if intermediates {
		err = os.MkdirAll(abs, 0o755)
	} else {
		err = os.Mkdir(abs, 0o755)
	}
	if err != nil {
		return opErr(KindCreateDirectory, "mkdir", abs, err)
	}
	c.Publish(Event{Kind: EventCreated, Path: abs})
	return nil
}
