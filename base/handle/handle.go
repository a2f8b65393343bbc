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

// Package handle maps opaque integer handles to Go values.
//
// Handles are used to expose Go values to callers which cannot, or should not,
// hold Go pointers: the C side of a kernel or a handle-addressed API.
package handle

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Handle to a Go object.
type Handle uintptr

// Table stores the mapping between handles and Go values.
// A Table can be used concurrently.
type Table struct {
	values sync.Map
	next   atomic.Uintptr
}

// Wrap registers a Go value and returns its handle.
// Handles must be unwrapped with Unwrap using the same type T.
// Wrapping the zero value returns the zero handle.
func Wrap[T comparable](tbl *Table, v T) Handle {
	var zero T
	if v == zero {
		return 0
	}
	h := Handle(tbl.next.Add(1))
	if h == 0 {
		panic("handle: ran out of handle space")
	}
	tbl.values.Store(h, v)
	return h
}

// Unwrap returns the Go value registered for a handle.
// It returns an error if the handle has been released, has never been
// returned by Wrap, or refers to a value of a different type.
func Unwrap[T any](tbl *Table, h Handle) (T, error) {
	var zero T
	if h == 0 {
		return zero, errors.Errorf("invalid null handle")
	}
	vAny, ok := tbl.values.Load(h)
	if !ok {
		return zero, errors.Errorf("handle %d has been released or is unknown", h)
	}
	v, ok := vAny.(T)
	if !ok {
		return zero, errors.Errorf("handle %d refers to a %T, not a %T", h, vAny, zero)
	}
	return v, nil
}

// Release deletes a handle.
// The handle must not be used (either through Unwrap or Release) after deletion.
func (tbl *Table) Release(h Handle) error {
	if h == 0 {
		return nil
	}
	if _, ok := tbl.values.LoadAndDelete(h); !ok {
		return errors.Errorf("releasing invalid handle %d", h)
	}
	return nil
}

// Count returns the number of live handles.
func (tbl *Table) Count() (n int) {
	tbl.values.Range(func(any, any) bool {
		n++
		return true
	})
	return
}

// Dump returns a string representation of all existing handles.
func (tbl *Table) Dump() string {
	s := strings.Builder{}
	tbl.values.Range(func(h, v any) bool {
		fmt.Fprintf(&s, "%T handle: %v\n", v, h)
		return true
	})
	return s.String()
}
