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
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// pathLocks is a reference-counted map of per-path RW locks for goroutines of this process.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	rw   sync.RWMutex
	refs int
}

func newPathLocks() *pathLocks { return &pathLocks{m: make(map[string]*pathLock)} }

func (l *pathLocks) acquire(key string, exclusive bool) func() {
	l.mu.Lock()
	pl, ok := l.m[key]
	if !ok {
		pl = &pathLock{}
		l.m[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	if exclusive {
		pl.rw.Lock()
	} else {
		pl.rw.RLock()
	}
	return func() {
		if exclusive {
			pl.rw.Unlock()
		} else {
			pl.rw.RUnlock()
		}
		l.mu.Lock()
		if pl.refs--; pl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (c *Coordinator) lockPath(abs string) string {
	sum := sha1.Sum([]byte(abs))
	return filepath.Join(c.lockDir, hex.EncodeToString(sum[:])+".lock")
}

// lock takes the in-process lock for abs, then the cross-process file lock.
func (c *Coordinator) lock(ctx context.Context, abs string, exclusive bool) (func(), error) {
	release := c.local.acquire(abs, exclusive)
	fl := flock.New(c.lockPath(abs))
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err == nil && !ok {
		err = errors.New("file lock not acquired")
	}
	if err != nil {
		release()
		return nil, err
	}
	return func() {
		if uerr := fl.Unlock(); uerr != nil {
			c.log.Warn("release file lock", slog.String("path", abs), slog.Any("err", uerr))
		}
		release()
	}, nil
}

// lockPair takes exclusive locks on two paths in a stable order.
func (c *Coordinator) lockPair(ctx context.Context, a, b string) (func(), error) {
	if a == b {
		return c.lock(ctx, a, true)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	u1, err := c.lock(ctx, first, true)
	if err != nil {
		return nil, err
	}
	u2, err := c.lock(ctx, second, true)
	if err != nil {
		u1()
		return nil, err
	}
	return func() { u2(); u1() }, nil
}
