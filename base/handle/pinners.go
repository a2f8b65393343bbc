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

package handle

import (
	"runtime"
	"unsafe"
)

// Pins keeps Go memory in place while it is shared with native code.
type Pins struct {
	pinner runtime.Pinner
	count  int
}

// PinSliceData pins the content of a slice so that it can be shared with native code.
// It returns a pointer to the first element, or nil for an empty slice.
func PinSliceData[T any](p *Pins, vs []T) unsafe.Pointer {
	if len(vs) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(unsafe.SliceData(vs))
	p.pinner.Pin(ptr)
	p.count++
	return ptr
}

// Len returns the number of pinned slices.
func (p *Pins) Len() int {
	return p.count
}

// Unpin releases all the pinned memory.
func (p *Pins) Unpin() {
	p.pinner.Unpin()
	p.count = 0
}
