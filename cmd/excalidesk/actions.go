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
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"excalidesk/internal/filecoord"
	"excalidesk/internal/hostserver"
	"excalidesk/internal/library"
	"excalidesk/internal/telemetry"
)

// actions serves the page's nativeUI requests against the drawings directory.
type actions struct {
	root        string
	files       *filecoord.Coordinator
	library     *library.Store
	checkpoints *library.Service
	srv         *hostserver.Server
	tel         *telemetry.Client
}

type pathArgs struct {
	Path    string `json:"path"`
	To      string `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (a *actions) register() {
	for name, fn := range map[string]func(context.Context, pathArgs) (any, error){
		"readDrawing":       a.read,
		"writeDrawing":      a.write,
		"downloadFile":      a.download,
		"evictFile":         a.evict,
		"fileStatus":        a.status,
		"trashFile":         a.trash,
		"deleteFile":        a.remove,
		"moveFile":          a.move,
		"createDirectory":   a.mkdir,
		"saveCheckpoint":    a.saveCheckpoint,
		"listCheckpoints":   a.listCheckpoints,
		"restoreCheckpoint": a.restoreCheckpoint,
		"listDrawings":      a.listDrawings,
	} {
		fn := fn
		a.srv.HandleAction(name, func(ctx context.Context, data json.RawMessage) (any, error) {
			var args pathArgs
			if len(data) > 0 {
				if err := json.Unmarshal(data, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, args)
		})
	}
}

// resolve maps a page-supplied path into the drawings directory. Paths outside it are refused.
func (a *actions) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	root, err := filepath.Abs(a.root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the drawings directory", p)
	}
	return p, nil
}

func (a *actions) progress(path string) func(float64) {
	return func(f float64) {
		a.srv.Broadcast(hostserver.ChannelNativeUI, map[string]any{
			"action": "downloadProgress",
			"data":   map[string]any{"path": path, "fraction": f},
		})
	}
}

func (a *actions) read(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	data, err := a.files.Read(ctx, p, filecoord.ReadOptions{TrackProgress: true, OnProgress: a.progress(p)})
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p, "content": string(data)}, nil
}

func (a *actions) write(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p}, a.files.Write(ctx, p, []byte(args.Content))
}

func (a *actions) download(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = a.files.DownloadFile(ctx, p, a.progress(p))
	a.tel.Event("download", map[string]any{"ok": err == nil, "duration_ms": time.Since(start).Milliseconds()})
	return map[string]any{"path": p}, err
}

func (a *actions) evict(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p}, a.files.EvictLocalCopy(ctx, p)
}

func (a *actions) status(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	st, err := a.files.Status(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p, "status": st}, nil
}

func (a *actions) trash(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	dest, err := a.files.Trash(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p, "trashedTo": dest}, nil
}

func (a *actions) remove(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p}, a.files.Delete(ctx, p)
}

func (a *actions) move(ctx context.Context, args pathArgs) (any, error) {
	src, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	dst, err := a.resolve(args.To)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": dst, "oldPath": src}, a.files.Move(ctx, src, dst)
}

func (a *actions) mkdir(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": p}, a.files.CreateDirectory(ctx, p, true)
}

func (a *actions) saveCheckpoint(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	cp, err := a.checkpoints.Checkpoint(ctx, p)
	if err != nil {
		return nil, err
	}
	return checkpointView(cp), nil
}

func (a *actions) listCheckpoints(ctx context.Context, args pathArgs) (any, error) {
	p, err := a.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	cps, err := a.checkpoints.History(ctx, p, args.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(cps))
	for _, cp := range cps {
		out = append(out, checkpointView(cp))
	}
	return out, nil
}

func (a *actions) restoreCheckpoint(ctx context.Context, args pathArgs) (any, error) {
	d, err := a.checkpoints.Restore(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": d.Path}, nil
}

func (a *actions) listDrawings(ctx context.Context, _ pathArgs) (any, error) {
	ds, err := a.library.ListDrawings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, map[string]any{"id": d.ID, "name": d.Name, "path": d.Path, "updatedAt": d.UpdatedAt})
	}
	return out, nil
}

func checkpointView(cp library.Checkpoint) map[string]any {
	return map[string]any{"id": cp.ID, "drawingId": cp.DrawingID, "createdAt": cp.CreatedAt, "size": cp.Size}
}
