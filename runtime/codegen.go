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

// Package runtime builds, loads, and executes kernels generated by tensorc.
//
// A CodeGen is the C source of a kernel. Building a CodeGen invokes an
// external C compiler to produce a shared library. Loading the library
// resolves the entry point of the kernel. An Execution binds buffers to the
// formal arguments of a loaded kernel and calls the entry point.
package runtime

import (
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
)

type (
	// Formal is an argument of a kernel.
	Formal struct {
		Name  string
		Shape []int
		// Input is true if the kernel reads the argument before writing it.
		Input bool
		// Output is true if the kernel writes the argument.
		Output bool
	}

	// CodeGen is the generated source of a kernel.
	CodeGen struct {
		// Source is the C source code.
		Source string
		// FuncName is the name of the kernel function.
		FuncName string
		// Entry is the name of the symbol taking all arguments as an array of pointers.
		Entry string
		// Formals of the kernel, in the order of the argument array.
		Formals []Formal
		// DType of the elements of all arguments.
		DType dtype.DataType
	}
)

// Position returns the position of a formal in the argument array.
func (cg *CodeGen) Position(name string) (int, bool) {
	for i, f := range cg.Formals {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// FormalShape returns the shape of an argument, including its data type.
func (cg *CodeGen) FormalShape(i int) *shape.Shape {
	return &shape.Shape{
		DType:       cg.DType,
		AxisLengths: cg.Formals[i].Shape,
	}
}
