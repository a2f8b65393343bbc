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

package runtime

import (
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorc/base/handle"
	"github.com/pkg/errors"
)

// Execution binds buffers to the arguments of a kernel and calls it.
// An execution is not safe for concurrent use.
type Execution struct {
	kernel *Kernel
	slots  []unsafe.Pointer
	filled int
	pins   handle.Pins
}

// Kernel returns the kernel executed.
func (e *Execution) Kernel() *Kernel {
	return e.kernel
}

// Filled returns the number of arguments bound to a buffer.
func (e *Execution) Filled() int {
	return e.filled
}

// Bind a buffer to an argument given its name.
// The memory pointed by ptr must not move until the execution is cleared.
func (e *Execution) Bind(name string, ptr unsafe.Pointer) error {
	pos, err := e.kernel.Position(name)
	if err != nil {
		return err
	}
	if ptr == nil {
		return errors.Errorf("cannot bind a null buffer to %s", name)
	}
	if e.slots[pos] == nil {
		e.filled++
	}
	e.slots[pos] = ptr
	return nil
}

// Bind a slice to an argument of a kernel.
// The data type of the slice and its length must match the argument.
// The slice is pinned until the execution is cleared.
func Bind[T dtype.AlgebraType](e *Execution, name string, data []T) error {
	pos, err := e.kernel.Position(name)
	if err != nil {
		return err
	}
	cg := e.kernel.cg
	sh := cg.FormalShape(pos)
	if want := dtype.Generic[T](); want != sh.DType {
		return errors.Errorf("cannot bind a %s buffer to %s: kernel expects %s", want.String(), name, sh.DType.String())
	}
	if len(data) != sh.Size() {
		return errors.Errorf("cannot bind a buffer of %d elements to %s: kernel expects %d elements", len(data), name, sh.Size())
	}
	return e.Bind(name, handle.PinSliceData(&e.pins, data))
}

// Clear unbinds all the arguments and releases the memory pinned by the execution.
func (e *Execution) Clear() {
	clear(e.slots)
	e.filled = 0
	e.pins.Unpin()
}

// Execute calls the kernel. All the arguments must have been bound.
func (e *Execution) Execute() error {
	if !e.kernel.Loaded() {
		return errors.Wrapf(ErrNotLoaded, "cannot execute %s", e.kernel.cg.FuncName)
	}
	if e.filled != len(e.slots) {
		return errors.Wrapf(ErrUnboundArguments, "%d arguments out of %d bound", e.filled, len(e.slots))
	}
	var pins handle.Pins
	defer pins.Unpin()
	args := handle.PinSliceData(&pins, e.slots)
	purego.SyscallN(e.kernel.fn, uintptr(args))
	return nil
}
