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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"

	"github.com/srediag/blockmanager/api"
)

// LoaderName is the fixed registry name of the bootstrap loader.
const LoaderName = "ComponentLoader"

// LoaderConfig is the fixed configuration the bootstrap loader is registered
// with: load order 2, refresh count 10, no textual metadata.
func LoaderConfig() api.Config {
	return api.Config{
		Name:     LoaderName,
		Priority: 2,
		Count:    10,
	}
}

// Factory builds a block from its descriptor.
type Factory func(cfg api.Config) (api.Block, error)

// Factories maps block kinds to the factories able to build them.
type Factories struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}

func NewFactories() *Factories {
	return &Factories{kinds: make(map[string]Factory)}
}

// Register adds a factory for kind. Kinds cannot be registered twice.
func (f *Factories) Register(kind string, fn Factory) error {
	if kind == "" || fn == nil {
		return errors.New("block factory needs a kind and a function")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kinds[kind]; ok {
		return fmt.Errorf("%w: %s", ErrFactoryExists, kind)
	}
	f.kinds[kind] = fn
	return nil
}

// New builds the block described by cfg.
func (f *Factories) New(cfg api.Config) (api.Block, error) {
	f.mu.RLock()
	fn, ok := f.kinds[cfg.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	return fn(cfg)
}

// Kinds returns the registered kinds, sorted.
func (f *Factories) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.kinds))
	for k := range f.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// descriptor orders discovered blocks by load order, then name.
type descriptor struct {
	cfg api.Config
}

func (d *descriptor) Compare(other queuepkg.Item) int {
	o := other.(*descriptor)
	switch {
	case d.cfg.Priority != o.cfg.Priority:
		if d.cfg.Priority < o.cfg.Priority {
			return -1
		}
		return 1
	default:
		return strings.Compare(d.cfg.Name, o.cfg.Name)
	}
}

// loader is the bootstrap block. It scans the blocks directory for YAML
// descriptors and adds and enables the blocks they describe.
type loader struct {
	dir       string
	factories *Factories
	interval  time.Duration

	handle api.Handle
	cfg    api.Config
	// only touched from Run
	loaded map[string]struct{}
}

func newLoader(dir string, factories *Factories, interval time.Duration) *loader {
	return &loader{
		dir:       dir,
		factories: factories,
		interval:  interval,
		loaded:    make(map[string]struct{}),
	}
}

func (l *loader) Name() string { return LoaderName }

func (l *loader) Init(h api.Handle, cfg api.Config) error {
	l.handle = h
	l.cfg = cfg
	if cfg.Interval > 0 {
		l.interval = cfg.Interval
	}
	return nil
}

// Run rescans every interval, at most cfg.Count times, then idles until stopped.
func (l *loader) Run(ctx context.Context) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(l.interval)
	if l.cfg.Count > 0 {
		// the ticker fires once before consulting the backoff
		b = backoff.WithMaxRetries(b, uint64(l.cfg.Count-1))
	}
	ticker := backoff.NewTicker(backoff.WithContext(b, ctx))
	defer ticker.Stop()

	scans := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ticker.C:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				l.handle.LogConfig(l, fmt.Sprintf("refresh limit reached after %d scan(s)", scans))
				<-ctx.Done()
				return nil
			}
			scans++
			l.scan(ctx)
		}
	}
}

func (l *loader) scan(ctx context.Context) {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		l.handle.LogWarn(l, fmt.Sprintf("could not read %s: %v", l.dir, err))
		return
	}
	pq := queuepkg.NewPriorityQueue(len(files), false)
	defer pq.Dispose()

	seen := make(map[string]string)
	for _, f := range files {
		if f.IsDir() || !isDescriptor(f.Name()) {
			continue
		}
		path := filepath.Join(l.dir, f.Name())
		cfg, err := readDescriptor(path)
		if err != nil {
			l.handle.LogWarn(l, err.Error())
			continue
		}
		if _, ok := l.loaded[cfg.Name]; ok {
			continue
		}
		if prev, ok := seen[cfg.Name]; ok {
			l.handle.LogWarn(l, fmt.Sprintf("%s redeclares %s from %s, ignored", path, cfg.Name, prev))
			continue
		}
		seen[cfg.Name] = path
		if err := pq.Put(&descriptor{cfg: cfg}); err != nil {
			return
		}
	}

	for !pq.Empty() && ctx.Err() == nil {
		items, err := pq.Get(1)
		if err != nil {
			return
		}
		l.load(items[0].(*descriptor).cfg)
	}
}

// load builds, adds and enables one block. Failures to build are retried on
// the next scan; the manager logs add and enable failures itself.
func (l *loader) load(cfg api.Config) {
	b, err := l.factories.New(cfg)
	if err != nil {
		l.handle.LogWarn(l, fmt.Sprintf("could not build %s: %v", cfg.Name, err))
		return
	}
	if err := l.handle.AddBlock(cfg, b); err != nil {
		if errors.Is(err, ErrBlockExists) {
			l.loaded[cfg.Name] = struct{}{}
		}
		return
	}
	l.loaded[cfg.Name] = struct{}{}
	if err := l.handle.EnableBlock(cfg.Name); err != nil {
		return
	}
	l.handle.LogInfo(l, "loaded "+cfg.Name)
}

func isDescriptor(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func readDescriptor(path string) (api.Config, error) {
	var cfg api.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	if cfg.Name == "" || cfg.Kind == "" {
		return cfg, fmt.Errorf("descriptor %s: name and kind are required", path)
	}
	return cfg, nil
}
