// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
)

type memoryEntry struct {
	group string
	value []byte
}

// Memory keeps values in the current process.
type Memory struct {
	cache *ttlcache.Cache[string, memoryEntry]
}

func NewMemory() *Memory {
	cache := ttlcache.New[string, memoryEntry](
		ttlcache.WithDisableTouchOnHit[string, memoryEntry](),
	)
	go cache.Start()
	return &Memory{cache: cache}
}

func (m *Memory) Init() error {
	return nil
}

func (m *Memory) Ping() error {
	return nil
}

func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}

func (m *Memory) Purge() error {
	m.cache.DeleteAll()
	return nil
}

func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	item := m.cache.Get(name)
	if item == nil || item.IsExpired() {
		return nil, errors.Annotate(ErrObjectNotExist, name)
	}
	return item.Value().value, nil
}

func (m *Memory) Set(_ context.Context, group, name string, value []byte, ttl time.Duration) error {
	m.cache.Set(name, memoryEntry{group: group, value: value}, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.cache.Delete(name)
	return nil
}

// DeleteGroup scans live entries and removes the members of a group.
func (m *Memory) DeleteGroup(_ context.Context, group string) error {
	var names []string
	m.cache.Range(func(item *ttlcache.Item[string, memoryEntry]) bool {
		if item.Value().group == group {
			names = append(names, item.Key())
		}
		return true
	})
	for _, name := range names {
		m.cache.Delete(name)
	}
	return nil
}
