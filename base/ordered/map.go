// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ordered provides a map remembering the order in which keys were first stored.
package ordered

// Map is a map preserving insertion order.
// Keys also have a stable position, which is the order in which they were first stored.
type Map[K comparable, V any] struct {
	keys []K
	pos  map[K]int
	m    map[K]V
}

// NewMap returns a new empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		pos: make(map[K]int),
		m:   make(map[K]V),
	}
}

// Store a value in the map. The position of an existing key is unchanged.
func (m *Map[K, V]) Store(k K, v V) {
	if _, in := m.m[k]; !in {
		m.pos[k] = len(m.keys)
		m.keys = append(m.keys, k)
	}
	m.m[k] = v
}

// Load a value from the map.
func (m *Map[K, V]) Load(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

// Index returns the position of a key.
func (m *Map[K, V]) Index(k K) (int, bool) {
	i, ok := m.pos[k]
	return i, ok
}

// At returns the key and value stored at a given position.
func (m *Map[K, V]) At(i int) (K, V) {
	k := m.keys[i]
	return k, m.m[k]
}

// Iter iterates over the key and values in insertion order.
func (m *Map[K, V]) Iter() func(func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for _, k := range m.keys {
			if !yield(k, m.m[k]) {
				break
			}
		}
	}
}

// Keys iterates over the keys in insertion order.
func (m *Map[K, V]) Keys() func(func(K) bool) {
	return func(yield func(K) bool) {
		for _, k := range m.keys {
			if !yield(k) {
				break
			}
		}
	}
}

// Values iterates over the values in insertion order.
func (m *Map[K, V]) Values() func(func(V) bool) {
	return func(yield func(V) bool) {
		for _, k := range m.keys {
			if !yield(m.m[k]) {
				break
			}
		}
	}
}

// Clone returns a shallow copy of the map.
func (m *Map[K, V]) Clone() *Map[K, V] {
	r := NewMap[K, V]()
	for k, v := range m.Iter() {
		r.Store(k, v)
	}
	return r
}

// Size returns the number of keys in the map.
func (m *Map[K, V]) Size() int {
	return len(m.keys)
}

// Delete a key from the map. Positions of the keys stored after it are shifted down.
func (m *Map[K, V]) Delete(k K) {
	i, ok := m.pos[k]
	if !ok {
		return
	}
	delete(m.pos, k)
	delete(m.m, k)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	for j := i; j < len(m.keys); j++ {
		m.pos[m.keys[j]] = j
	}
}
