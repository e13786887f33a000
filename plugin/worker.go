/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// worker is the execution handle of an enabled block. done is closed after
// err is set.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type workerKey struct{}

// runningOn reports whether ctx descends from the Run context of w.
func runningOn(ctx context.Context, w *worker) bool {
	self, _ := ctx.Value(workerKey{}).(*worker)
	return self != nil && self == w
}

// spawn submits e's Run to the pool. It must be called with e.mu held; the
// exit path takes e.mu, so it cannot race the caller's bookkeeping.
func (m *Manager) spawn(e *entry) (*worker, error) {
	ctx, cancel := context.WithCancel(m.ctx)
	w := &worker{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ctx = context.WithValue(ctx, workerKey{}, w)
	name := e.block.Name()
	task := func() {
		defer close(w.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				w.err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
			m.exited(name, e, w)
		}()
		w.err = e.block.Run(ctx)
	}
	if err := m.pool.Submit(task); err != nil {
		cancel()
		return nil, fmt.Errorf("submit worker: %w", err)
	}
	return w, nil
}

// wait blocks until w exits, ctx is done or deadline passes.
func (w *worker) wait(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
