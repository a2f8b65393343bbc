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

// Package capi exposes the compiler and the runtime through opaque handles.
//
// Callers which cannot hold Go pointers manipulate code, kernels, and
// executions through integer handles. A handle stays valid until it is
// released. Using a released handle, an unknown handle, or a handle of
// another entity returns an error.
package capi

import (
	"github.com/gx-org/tensorc/api"
	"github.com/gx-org/tensorc/base/handle"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/gx-org/tensorc/runtime"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type (
	// CodeGen is a handle to generated code.
	CodeGen handle.Handle
	// Kernel is a handle to a built kernel.
	Kernel handle.Handle
	// Execution is a handle to an execution of a kernel.
	Execution handle.Handle
)

var handles handle.Table

// Emit compiles a program into C code.
func Emit(p *typed.Program, opts api.Options) (CodeGen, error) {
	cg, err := api.NewCompiler(opts).Emit(p)
	if err != nil {
		return 0, err
	}
	return CodeGen(handle.Wrap(&handles, cg)), nil
}

// NewCodeGen registers code generated outside of the package.
func NewCodeGen(cg *runtime.CodeGen) CodeGen {
	return CodeGen(handle.Wrap(&handles, cg))
}

func unwrap[T any, H ~uintptr](h H) (T, error) {
	return handle.Unwrap[T](&handles, handle.Handle(h))
}

// Source returns the C source of generated code.
func Source(h CodeGen) (string, error) {
	cg, err := unwrap[*runtime.CodeGen](h)
	if err != nil {
		return "", err
	}
	return cg.Source, nil
}

// ReleaseCodeGen releases generated code.
// Kernels built from the code are not affected.
func ReleaseCodeGen(h CodeGen) error {
	if _, err := unwrap[*runtime.CodeGen](h); err != nil {
		return err
	}
	return handles.Release(handle.Handle(h))
}

// Build compiles generated code into a kernel.
func Build(h CodeGen, opts runtime.Options) (Kernel, error) {
	cg, err := unwrap[*runtime.CodeGen](h)
	if err != nil {
		return 0, err
	}
	k, err := runtime.Build(cg, opts)
	if err != nil {
		return 0, err
	}
	return Kernel(handle.Wrap(&handles, k)), nil
}

// Load the library of a kernel.
func Load(h Kernel) error {
	k, err := unwrap[*runtime.Kernel](h)
	if err != nil {
		return err
	}
	return k.Load()
}

// Unload the library of a kernel.
func Unload(h Kernel) error {
	k, err := unwrap[*runtime.Kernel](h)
	if err != nil {
		return err
	}
	return k.Unload()
}

// ReleaseKernel unloads a kernel, removes its files, and releases its handle.
func ReleaseKernel(h Kernel) error {
	k, err := unwrap[*runtime.Kernel](h)
	if err != nil {
		return err
	}
	return multierr.Append(k.Clean(), handles.Release(handle.Handle(h)))
}

// NewExecution returns a new execution of a kernel.
func NewExecution(h Kernel) (Execution, error) {
	k, err := unwrap[*runtime.Kernel](h)
	if err != nil {
		return 0, err
	}
	return Execution(handle.Wrap(&handles, k.NewExecution())), nil
}

// Bind a slice to an argument of an execution.
func Bind[T float32 | float64](h Execution, name string, data []T) error {
	e, err := unwrap[*runtime.Execution](h)
	if err != nil {
		return err
	}
	return runtime.Bind(e, name, data)
}

// Clear all the arguments of an execution.
func Clear(h Execution) error {
	e, err := unwrap[*runtime.Execution](h)
	if err != nil {
		return err
	}
	e.Clear()
	return nil
}

// Execute calls the kernel of an execution.
func Execute(h Execution) error {
	e, err := unwrap[*runtime.Execution](h)
	if err != nil {
		return err
	}
	return e.Execute()
}

// ReleaseExecution clears an execution and releases its handle.
func ReleaseExecution(h Execution) error {
	e, err := unwrap[*runtime.Execution](h)
	if err != nil {
		return errors.WithMessage(err, "cannot release execution")
	}
	e.Clear()
	return handles.Release(handle.Handle(h))
}

// Live returns the number of handles not yet released.
func Live() int {
	return handles.Count()
}

// Dump lists the handles not yet released with the type of their value.
func Dump() string {
	return handles.Dump()
}
