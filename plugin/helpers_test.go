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
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srediag/blockmanager/api"
)

// syncBuffer is a console sink that can be read while workers log.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// count returns how many logged lines contain substr.
func (b *syncBuffer) count(substr string) int {
	n := 0
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// fakeBlock records every call the manager makes on it.
type fakeBlock struct {
	name       string
	initErr    error
	runErr     error
	stopErr    error
	panicRun   bool
	ignoreStop bool

	inits   atomic.Int32
	runs    atomic.Int32
	stops   atomic.Int32
	exits   atomic.Int32
	started chan struct{}
	release chan struct{}

	handle api.Handle
	cfg    api.Config
}

func newFakeBlock(name string) *fakeBlock {
	return &fakeBlock{
		name:    name,
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *fakeBlock) Name() string { return b.name }

func (b *fakeBlock) Init(h api.Handle, cfg api.Config) error {
	b.inits.Add(1)
	b.handle = h
	b.cfg = cfg
	return b.initErr
}

func (b *fakeBlock) Run(ctx context.Context) error {
	b.runs.Add(1)
	defer b.exits.Add(1)
	select {
	case b.started <- struct{}{}:
	default:
	}
	if b.panicRun {
		panic("boom")
	}
	if b.ignoreStop {
		<-b.release
		return b.runErr
	}
	select {
	case <-ctx.Done():
	case <-b.release:
	}
	return b.runErr
}

func (b *fakeBlock) RequestStop() error {
	b.stops.Add(1)
	return b.stopErr
}

// waitStarted blocks until Run was entered once more.
func (b *fakeBlock) waitStarted() bool {
	select {
	case <-b.started:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

var errFake = errors.New("fake failure")

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.BlocksDir = filepath.Join(dir, "blocks")
	cfg.LogFile = filepath.Join(dir, "blockmanager.log")
	cfg.LogLevel = LevelConfig
	cfg.StopTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.LoaderInterval = 10 * time.Millisecond
	cfg.HandleSignals = false
	return cfg
}

// hookBlock runs caller-supplied Init and Run bodies.
type hookBlock struct {
	name   string
	init   func(h api.Handle) error
	run    func(ctx context.Context, h api.Handle) error
	handle api.Handle
}

func (b *hookBlock) Name() string { return b.name }

func (b *hookBlock) Init(h api.Handle, _ api.Config) error {
	b.handle = h
	if b.init == nil {
		return nil
	}
	return b.init(h)
}

func (b *hookBlock) Run(ctx context.Context) error {
	if b.run == nil {
		<-ctx.Done()
		return nil
	}
	return b.run(ctx, b.handle)
}
