/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package filecoord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"excalidesk/internal/cloud"
)

var errTrashUnsupported = errors.New("no trash available on this platform")

// trashLayout is where trashed items go. Freedesktop trashes keep a .trashinfo record per item.
type trashLayout struct {
	files       string
	info        string
	freedesktop bool
}

func (c *Coordinator) trash() (trashLayout, error) {
	if c.trashDir != "" {
		return freedesktopTrash(c.trashDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return trashLayout{}, err
	}
	switch runtime.GOOS {
	case "darwin":
		return trashLayout{files: filepath.Join(home, ".Trash")}, nil
	case "windows", "js", "wasip1":
		return trashLayout{}, errTrashUnsupported
	default:
		data := os.Getenv("XDG_DATA_HOME")
		if data == "" {
			data = filepath.Join(home, ".local", "share")
		}
		return freedesktopTrash(filepath.Join(data, "Trash")), nil
	}
}

func freedesktopTrash(root string) trashLayout {
	return trashLayout{files: filepath.Join(root, "files"), info: filepath.Join(root, "info"), freedesktop: true}
}

// Trash moves path into the trash and returns where it ended up.
func (c *Coordinator) Trash(ctx context.Context, path string) (string, error) {
	abs, err := absPath(path)
	if err != nil {
		return "", opErr(KindTrash, "trash", path, err)
	}
	unlock, err := c.lock(ctx, abs, true)
	if err != nil {
		return "", opErr(KindCoordination, "trash", abs, err)
	}
	defer unlock()

	if _, err := os.Lstat(abs); err != nil {
		return "", opErr(KindTrash, "trash", abs, err)
	}
	layout, err := c.trash()
	if err != nil {
		return "", opErr(KindTrash, "trash", abs, err)
	}
	dest, err := moveToTrash(layout, abs, time.Now())
	if err != nil {
		return "", opErr(KindTrash, "trash", abs, err)
	}
	_ = os.Remove(cloud.SidecarPath(abs))
	c.Publish(Event{Kind: EventDeleted, Path: abs})
	return dest, nil
}

func moveToTrash(layout trashLayout, abs string, now time.Time) (string, error) {
	if err := os.MkdirAll(layout.files, 0o700); err != nil {
		return "", err
	}
	if layout.freedesktop {
		if err := os.MkdirAll(layout.info, 0o700); err != nil {
			return "", err
		}
	}
	base := filepath.Base(abs)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; i < 10000; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s %d%s", stem, i, ext)
		}
		dest := filepath.Join(layout.files, name)
		if !layout.freedesktop {
			if _, err := os.Lstat(dest); err == nil {
				continue
			}
			return dest, os.Rename(abs, dest)
		}
		// The info file reserves the name.
		infoPath := filepath.Join(layout.info, name+".trashinfo")
		f, err := os.OpenFile(infoPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := os.Lstat(dest); err == nil {
			_ = f.Close()
			_ = os.Remove(infoPath)
			continue
		}
		_, werr := fmt.Fprintf(f, "[Trash Info]\nPath=%s\nDeletionDate=%s\n",
			(&url.URL{Path: abs}).EscapedPath(), now.Format("2006-01-02T15:04:05"))
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr == nil {
			werr = os.Rename(abs, dest)
		}
		if werr != nil {
			_ = os.Remove(infoPath)
			return "", werr
		}
		return dest, nil
	}
	return "", fmt.Errorf("no free name for %s in trash", base)
}
