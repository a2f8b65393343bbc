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

// Package refeval evaluates tensor programs in pure Go.
//
// Eval computes a typed program with whole-tensor semantics: every statement
// evaluates its expression completely before writing its destination.
// Interpret runs a rewritten IR program element by element, in the order of
// the loops of the emitted code, writing each element as soon as it is
// computed. Both are used as references to test the passes and the
// generated kernels.
package refeval

import (
	"slices"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
)

// Tensor is a dense row-major array of float64.
type Tensor struct {
	shape shape.Shape
	data  []float64
}

// NewTensor returns a tensor of zeros.
func NewTensor(dims []int) *Tensor {
	t := &Tensor{shape: shape.Shape{
		DType:       dtype.Float64,
		AxisLengths: slices.Clone(dims),
	}}
	t.data = make([]float64, t.shape.Size())
	return t
}

// FromFlat returns a tensor given its row-major values.
// The slice is used by the tensor.
func FromFlat(dims []int, data []float64) *Tensor {
	return &Tensor{
		shape: shape.Shape{DType: dtype.Float64, AxisLengths: slices.Clone(dims)},
		data:  data,
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() *shape.Shape {
	return &t.shape
}

// Dims returns the axis lengths of the tensor.
func (t *Tensor) Dims() []int {
	return t.shape.AxisLengths
}

// Flat returns the row-major values of the tensor.
func (t *Tensor) Flat() []float64 {
	return t.data
}

// Offset returns the position of an element in the flat values.
func (t *Tensor) Offset(idx []int) int {
	return rowMajor(t.shape.AxisLengths, idx)
}

// At returns an element.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.Offset(idx)]
}

// Set an element.
func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.Offset(idx)] = v
}

func rowMajor(dims, idx []int) int {
	off := 0
	for k, i := range idx {
		off = off*dims[k] + i
	}
	return off
}

// forEach calls f for every index of a shape, the last axis varying fastest.
// The index slice is reused between calls.
func forEach(dims []int, f func(idx []int)) {
	for _, d := range dims {
		if d == 0 {
			return
		}
	}
	idx := make([]int, len(dims))
	for {
		f(idx)
		k := len(idx) - 1
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < dims[k] {
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}
