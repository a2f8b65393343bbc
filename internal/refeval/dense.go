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

package refeval

import (
	"slices"

	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/pkg/errors"
)

// Memory maps the names of tensors to their values.
type Memory map[string]*Tensor

// NewMemory allocates all the declared tensors of a program and copies the input values.
func NewMemory(decls []*typed.Decl, inputs map[string][]float64) (Memory, error) {
	mem := make(Memory, len(decls))
	for _, decl := range decls {
		t := NewTensor(decl.Shape)
		mem[decl.Name] = t
		vals, ok := inputs[decl.Name]
		if !ok {
			continue
		}
		if len(vals) != len(t.data) {
			return nil, errors.Errorf("input %s has %d values but its shape %s requires %d values", decl.Name, len(vals), decl.Shape, len(t.data))
		}
		copy(t.data, vals)
	}
	return mem, nil
}

// Eval evaluates a typed program with whole-tensor semantics.
func Eval(p *typed.Program, inputs map[string][]float64) (Memory, error) {
	if err := typed.Validate(p); err != nil {
		return nil, err
	}
	mem, err := NewMemory(p.Decls, inputs)
	if err != nil {
		return nil, err
	}
	for _, stmt := range p.Stmts {
		val := mem.eval(stmt.Expr)
		dst := mem[stmt.Dst]
		forEach(val.Dims(), func(idx []int) {
			dst.Set(val.At(idx...), ir.Backward(stmt.DstPerm, idx)...)
		})
	}
	return mem, nil
}

func (mem Memory) eval(expr typed.Expr) *Tensor {
	switch e := expr.(type) {
	case *typed.Ident:
		t := mem[e.Name]
		return FromFlat(t.Dims(), slices.Clone(t.data))
	case *typed.Const:
		return FromFlat(nil, []float64{e.Value})
	case *typed.Binary:
		x, y := mem.eval(e.X), mem.eval(e.Y)
		out := NewTensor(x.Dims())
		for i := range out.data {
			out.data[i] = apply(e.Op, x.data[i], y.data[i])
		}
		return out
	case *typed.Scale:
		s, x := mem.eval(e.Scalar).data[0], mem.eval(e.Tensor)
		out := NewTensor(x.Dims())
		for i := range out.data {
			out.data[i] = apply(e.Op, s, x.data[i])
		}
		return out
	case *typed.Product:
		x, y := mem.eval(e.X), mem.eval(e.Y)
		out := NewTensor(e.Shape())
		for i, xv := range x.data {
			for j, yv := range y.data {
				out.data[i*len(y.data)+j] = xv * yv
			}
		}
		return out
	case *typed.Contract:
		return contract(mem.eval(e.X), e.XAxes, mem.eval(e.Y), e.YAxes)
	case *typed.Stack:
		out := NewTensor(e.Shape())
		var data []float64
		for _, m := range e.Members {
			data = append(data, mem.eval(m).data...)
		}
		copy(out.data, data)
		return out
	case *typed.Transpose:
		x := mem.eval(e.X)
		out := NewTensor(e.Shape())
		forEach(out.Dims(), func(idx []int) {
			out.Set(x.At(ir.Backward(e.Pairs, idx)...), idx...)
		})
		return out
	}
	panic(errors.Errorf("expression %T not supported", expr))
}

func apply(op ir.Kind, x, y float64) float64 {
	switch op {
	case ir.Add:
		return x + y
	case ir.Sub:
		return x - y
	case ir.Mul, ir.ScalarMul:
		return x * y
	case ir.Div:
		return x / y
	case ir.ScalarDiv:
		// The scalar is the first operand.
		return y / x
	}
	panic(errors.Errorf("operator %s not supported", op))
}

func contract(x *Tensor, xAxes []int, y *Tensor, yAxes []int) *Tensor {
	xFree := ir.Shape(x.Dims()).Remove(xAxes)
	yFree := ir.Shape(y.Dims()).Remove(yAxes)
	out := NewTensor(xFree.Concat(yFree))
	summed := make([]int, len(xAxes))
	for t, ax := range xAxes {
		summed[t] = x.Dims()[ax]
	}
	xIdx := make([]int, len(x.Dims()))
	yIdx := make([]int, len(y.Dims()))
	forEach(out.Dims(), func(idx []int) {
		fill(xIdx, xAxes, idx[:len(xFree)])
		fill(yIdx, yAxes, idx[len(xFree):])
		sum := 0.0
		forEach(summed, func(k []int) {
			for t, ax := range xAxes {
				xIdx[ax] = k[t]
			}
			for t, ax := range yAxes {
				yIdx[ax] = k[t]
			}
			sum += x.At(xIdx...) * y.At(yIdx...)
		})
		out.Set(sum, idx...)
	})
	return out
}

// fill the free axes of an index with values in order.
func fill(idx, contracted, free []int) {
	next := 0
	for pos := range idx {
		if slices.Contains(contracted, pos) {
			continue
		}
		idx[pos] = free[next]
		next++
	}
}
