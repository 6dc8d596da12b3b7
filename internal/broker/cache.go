/*******************************************************************************
*
* Copyright 2018-2020 SAP SE
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package broker

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Cache is an LRU of already-open Broker handles, keyed by DB file path.
// Reopening a SQLite file for every single request would be wasteful, but
// the single-writer-per-container invariant in the data model must still
// hold; Cache solves both by handing out the same *Broker (with its own
// internal mutex) for repeated requests against the same container, and by
// closing the underlying connection -- and unregistering its Prometheus
// collector -- whenever an entry is evicted.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Broker]
}

// NewCache builds a Cache holding at most size open broker handles.
func NewCache(size int) (*Cache, error) {
	c := &Cache{}
	entries, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

func (c *Cache) onEvict(_ string, b *Broker) {
	if b.db != nil {
		if collector, ok := b.statsCollector(); ok {
			prometheus.Unregister(collector)
		}
	}
	_ = b.Close()
}

// Get returns the cached handle for path, creating and registering one (via
// New) if none exists yet. The returned handle has not necessarily been
// opened or initialized on disk; callers still call Initialize/connect as
// appropriate.
func (c *Cache) Get(path, account, container, hash string) *Broker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.entries.Get(path); ok {
		return b
	}
	b := New(path, account, container, hash)
	c.entries.Add(path, b)
	return b
}

// Evict removes and closes the cached handle for path, if any. Called after
// a container DELETE that leaves the container logically deleted, so a
// later request for the same path reopens the file from scratch rather than
// serving a cached pre-deletion snapshot of the gorp mapping.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(path)
}

// Len reports the number of currently cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
