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
	"bytes"
	"sync"

	"excalidesk/internal/cloud"
)

// task is one in-flight read. Callers arriving while it runs wait for its outcome.
type task struct {
	done    chan struct{}
	data    []byte
	err     error
	waiters int

	mu        sync.Mutex
	listeners []cloud.Progress
}

func (t *task) listen(p cloud.Progress) {
	if p == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, p)
	t.mu.Unlock()
}

func (t *task) broadcast(f float64) {
	t.mu.Lock()
	ls := append([]cloud.Progress(nil), t.listeners...)
	t.mu.Unlock()
	for _, l := range ls {
		l(f)
	}
}

// tasks holds at most one task per path.
type tasks struct {
	mu sync.Mutex
	m  map[string]*task
}

func newTasks() *tasks { return &tasks{m: make(map[string]*task)} }

// run executes fn for key unless a task for key is already running, in which case it waits
// for that task and returns its result. The entry is removed when fn returns.
func (ts *tasks) run(key string, progress cloud.Progress, fn func(progress cloud.Progress) ([]byte, error)) ([]byte, error) {
	ts.mu.Lock()
	if t, ok := ts.m[key]; ok {
		t.waiters++
		t.listen(progress)
		ts.mu.Unlock()
		<-t.done
		return bytes.Clone(t.data), t.err
	}
	t := &task{done: make(chan struct{})}
	t.listen(progress)
	ts.m[key] = t
	ts.mu.Unlock()

	defer func() {
		ts.mu.Lock()
		delete(ts.m, key)
		ts.mu.Unlock()
		close(t.done)
	}()
	t.data, t.err = fn(t.broadcast)
	return t.data, t.err
}

// waiting returns how many callers are attached to the running task for key.
func (ts *tasks) waiting(key string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.m[key]; ok {
		return t.waiters
	}
	return 0
}

func (ts *tasks) inFlight(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.m[key]
	return ok
}
