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

	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/loopfuse"
	"github.com/pkg/errors"
)

type interpreter struct {
	prog *ir.Program
	mem  Memory
}

// Interpret runs an IR program element by element.
//
// The elements of the result of an assignment are computed in the order of
// the loops of the generated code, and each element is written before the
// next one is computed. Contractions at the root of an assignment accumulate
// directly into their destination.
func Interpret(prog *ir.Program, inputs map[string][]float64) (Memory, error) {
	mem := make(Memory, prog.Symbols.Len())
	for sym := range prog.Symbols.All() {
		t := NewTensor(sym.Shape)
		mem[sym.Name] = t
		vals, ok := inputs[sym.Name]
		if !ok {
			continue
		}
		if !sym.Kind.IsInput() {
			return nil, errors.Errorf("%s %s cannot be given a value", sym.Kind, sym.Name)
		}
		if len(vals) != len(t.data) {
			return nil, errors.Errorf("input %s has %d values but its shape %s requires %d values", sym.Name, len(vals), sym.Shape, len(t.data))
		}
		copy(t.data, vals)
	}
	it := &interpreter{prog: prog, mem: mem}
	if prog.Fusion == nil {
		for i, a := range prog.Assignments {
			if err := it.assignment(a, -1); err != nil {
				return nil, fmterr.Stmt(i, prog.Dst(a).Name, err)
			}
		}
		return mem, nil
	}
	for f := range prog.Fusion.Extent {
		for i, a := range prog.Assignments {
			if err := it.assignment(a, f); err != nil {
				return nil, fmterr.Stmt(i, prog.Dst(a).Name, err)
			}
		}
	}
	return mem, nil
}

// loopOrder returns the axes of the result of an assignment in the order
// their loops are opened: the order in which the indices are first used by
// the reads of the assignment and then by its write.
func (it *interpreter) loopOrder(a *ir.Assignment) []int {
	dst := it.prog.Dst(a)
	names := loopfuse.ResultNames(dst.Shape.Rank())
	var order []int
	add := func(name string) {
		axis := slices.Index(names, name)
		if axis < 0 || slices.Contains(order, axis) {
			return
		}
		if a.Fused && axis == a.FuseAxis {
			return
		}
		order = append(order, axis)
	}
	if it.prog.Node(a.Expr).Kind == ir.Contraction {
		for _, name := range names {
			add(name)
		}
		return order
	}
	accs := loopfuse.Accesses(it.prog, a, names)
	for _, acc := range append(accs[1:], accs[0]) {
		for _, name := range acc.Index {
			add(name)
		}
	}
	for _, name := range names {
		add(name)
	}
	return order
}

func (it *interpreter) assignment(a *ir.Assignment, fused int) error {
	dst := it.prog.Dst(a)
	if _, ok := it.mem[dst.Name]; !ok {
		return fmterr.Internalf("undeclared destination %s", dst.Name)
	}
	order := it.loopOrder(a)
	extents := make([]int, len(order))
	for i, axis := range order {
		extents[i] = dst.Shape[axis]
	}
	result := make([]int, dst.Shape.Rank())
	if a.Fused {
		result[a.FuseAxis] = fused
	}
	root := it.prog.Node(a.Expr)
	forEach(extents, func(loop []int) {
		for i, axis := range order {
			result[axis] = loop[i]
		}
		if root.Kind != ir.Contraction {
			it.store(dst, result, it.eval(a.Expr, result))
			return
		}
		it.store(dst, result, 0)
		it.contraction(a.Expr, result, func(v float64) {
			it.store(dst, result, it.load(dst, result)+v)
		})
	})
	return nil
}

// contraction calls f with the product of the operands for every value of the contracted indices.
func (it *interpreter) contraction(id ir.NodeID, result []int, f func(float64)) {
	n := it.prog.Node(id)
	x := it.prog.Node(n.Operands[0])
	extents := make([]int, len(n.LhsAxes))
	for t, ax := range n.LhsAxes {
		extents[t] = x.Shape[ax]
	}
	forEach(extents, func(k []int) {
		ops := ir.OperandIndices(it.prog, id, result, k)
		f(it.eval(n.Operands[0], ops[0]) * it.eval(n.Operands[1], ops[1]))
	})
}

func (it *interpreter) tensor(n *ir.Node) *Tensor {
	return it.mem[n.Name]
}

func (it *interpreter) subscript(n *ir.Node, idx []int) []int {
	return ir.Subscript(n, idx, func(k int) int { return k })
}

func (it *interpreter) load(n *ir.Node, idx []int) float64 {
	return it.tensor(n).At(it.subscript(n, idx)...)
}

func (it *interpreter) store(n *ir.Node, idx []int, v float64) {
	it.tensor(n).Set(v, it.subscript(n, idx)...)
}

func (it *interpreter) eval(id ir.NodeID, idx []int) float64 {
	n := it.prog.Node(id)
	switch n.Kind {
	case ir.Identifier:
		return it.load(n, idx)
	case ir.Constant:
		return n.Value
	case ir.Add, ir.Sub, ir.Mul, ir.Div, ir.ScalarMul, ir.ScalarDiv, ir.Product:
		ops := ir.OperandIndices(it.prog, id, idx, nil)
		x := it.eval(n.Operands[0], ops[0])
		y := it.eval(n.Operands[1], ops[1])
		switch n.Kind {
		case ir.Add:
			return x + y
		case ir.Sub:
			return x - y
		case ir.Div, ir.ScalarDiv:
			return x / y
		}
		return x * y
	case ir.Contraction:
		sum := 0.0
		it.contraction(id, idx, func(v float64) { sum += v })
		return sum
	case ir.Stack:
		return it.eval(n.Operands[idx[0]], idx[1:])
	case ir.Transposition:
		return it.eval(n.Operands[0], ir.Backward(n.Pairs, idx))
	}
	panic(fmterr.Internalf("invalid node kind %s", n.Kind))
}
