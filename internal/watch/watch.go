/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package watch reports changes made to the drawings directory by other programs.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"excalidesk/internal/cloud"
	"excalidesk/internal/filecoord"
	applog "excalidesk/internal/log"
)

// Watcher follows a directory tree and publishes file events.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	publish func(filecoord.Event)
	log     *slog.Logger
}

// New watches root and every directory below it.
func New(root string, publish func(filecoord.Event)) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir %s: %w", abs, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{root: abs, fsw: fsw, publish: publish, log: applog.WithComponent("watch")}
	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && Ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watching drawings", slog.String("root", w.root))
	for {
		select {
		case <-ctx.Done():
			return w.fsw.Close()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !Ignored(ev.Name) {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Warn("watch new directory", slog.String("path", ev.Name), slog.Any("err", err))
					}
				}
			}
			if out, ok := Translate(ev); ok {
				w.log.Debug("fs event", slog.String("op", ev.Op.String()), slog.String("path", ev.Name))
				w.publish(out)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("fsnotify error", slog.Any("err", err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Ignored reports whether changes to name are internal bookkeeping: hidden files such as
// sync records, partial downloads and atomic-write temp files.
func Ignored(name string) bool {
	base := filepath.Base(name)
	return cloud.IsSidecar(name) || strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~")
}

// Translate maps an fsnotify event to a file event. Permission changes and ignored names
// yield false.
func Translate(ev fsnotify.Event) (filecoord.Event, bool) {
	if Ignored(ev.Name) {
		return filecoord.Event{}, false
	}
	switch {
	case ev.Has(fsnotify.Create):
		return filecoord.Event{Kind: filecoord.EventCreated, Path: ev.Name}, true
	case ev.Has(fsnotify.Write):
		return filecoord.Event{Kind: filecoord.EventModified, Path: ev.Name}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename also produces Create for the new name.
		return filecoord.Event{Kind: filecoord.EventDeleted, Path: ev.Name}, true
	default:
		return filecoord.Event{}, false
	}
}
