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
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/blockmanager/api"
	"github.com/srediag/blockmanager/pkg/lifecycle"
)

// entry is a registered block. mu guards state, worker and removed.
type entry struct {
	mu      sync.Mutex
	block   api.Block
	config  api.Config
	state   lifecycle.State
	worker  *worker
	removed bool
}

func (e *entry) snapshot() (lifecycle.State, *worker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.worker
}

// registry is the name-keyed collection of blocks.
type registry struct {
	entries cmap.ConcurrentMap[string, *entry]
}

func newRegistry() *registry {
	return &registry{entries: cmap.New[*entry]()}
}

// add inserts e unless its name is taken.
func (r *registry) add(name string, e *entry) bool {
	return r.entries.SetIfAbsent(name, e)
}

func (r *registry) get(name string) (*entry, bool) {
	return r.entries.Get(name)
}

func (r *registry) has(name string) bool {
	return r.entries.Has(name)
}

// remove deletes name and returns what was stored under it.
func (r *registry) remove(name string) (*entry, bool) {
	return r.entries.Pop(name)
}

func (r *registry) size() int {
	return r.entries.Count()
}

// names returns a snapshot ordered by load order, then name.
func (r *registry) names() []string {
	items := r.entries.Items()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := items[names[i]].config.Priority, items[names[j]].config.Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

func (r *registry) blocks() map[string]api.Block {
	items := r.entries.Items()
	out := make(map[string]api.Block, len(items))
	for name, e := range items {
		out[name] = e.block
	}
	return out
}
