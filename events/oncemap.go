// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import "sync"

// onceMap memoizes new(key), including failures. Concurrent gets of the same
// key wait for a single call.
type onceMap[K comparable, V any] struct {
	mu  sync.Mutex
	m   map[K]*onceMapEntry[V]
	new func(K) (V, error)
}

type onceMapEntry[V any] struct {
	once sync.Once
	val  V
	err  error
}

func newOnceMap[K comparable, V any](new func(K) (V, error)) *onceMap[K, V] {
	return &onceMap[K, V]{m: make(map[K]*onceMapEntry[V]), new: new}
}

func (m *onceMap[K, V]) get(key K) (V, error) {
	m.mu.Lock()
	ent, ok := m.m[key]
	if !ok {
		ent = new(onceMapEntry[V])
		m.m[key] = ent
	}
	m.mu.Unlock()

	ent.once.Do(func() {
		ent.val, ent.err = m.new(key)
	})
	return ent.val, ent.err
}
