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

// Package transpose resolves transposition nodes into permutations of identifier indices.
//
// Transpositions are pushed down the expression trees until they reach
// identifiers, where they are recorded as deferred permutations. A
// transposition mixing the axes of the two operands of an outer product
// cannot be pushed further: the product is then computed into a
// synthesized tensor first.
package transpose

import (
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/lift"
)

// Resolve removes all transposition nodes from a program.
func Resolve(prog *ir.Program) error {
	for i := 0; i < len(prog.Assignments); {
		found, err := resolveFirst(prog, i)
		if err != nil {
			return fmterr.Stmt(i, prog.Dst(prog.Assignments[i]).Name, err)
		}
		if !found {
			i++
		}
	}
	return prog.Verify(ir.VerifyOptions{
		NoKinds:   []ir.Kind{ir.Transposition, ir.Stack},
		NoSharing: true,
	})
}

// resolveFirst pushes down the first transposition found in the assignment at index i.
// A product hoisted by the transposition is inserted at index i.
func resolveFirst(prog *ir.Program, i int) (bool, error) {
	a := prog.Assignments[i]
	var slot ir.Slot
	found := false
	prog.Walk(a.Expr, func(s ir.Slot, id ir.NodeID) bool {
		if found {
			return false
		}
		if prog.Node(id).Kind == ir.Transposition {
			slot, found = s, true
			return false
		}
		return true
	})
	if !found {
		return false, nil
	}
	return true, push(prog, i, slot)
}

func at(prog *ir.Program, a *ir.Assignment, slot ir.Slot) ir.NodeID {
	if slot.Parent == ir.NoNode {
		return a.Expr
	}
	return prog.Node(slot.Parent).Operands[slot.Index]
}

func shift(pairs []ir.Swap, offset int) []ir.Swap {
	shifted := make([]ir.Swap, len(pairs))
	for i, p := range pairs {
		shifted[i] = ir.Swap{A: p.A + offset, B: p.B + offset}
	}
	return shifted
}

// push moves the transposition at a slot one level down.
func push(prog *ir.Program, i int, slot ir.Slot) error {
	a := prog.Assignments[i]
	tID := at(prog, a, slot)
	t := prog.Node(tID)
	x := prog.Node(t.Operands[0])
	switch x.Kind {
	case ir.Identifier:
		perm := append(append([]ir.Swap{}, x.Perm...), shift(t.Pairs, len(x.Fixed))...)
		prog.Set(a, slot, prog.NewAnnotatedIdent(x.Name, t.Shape, x.Fixed, perm))
	case ir.Constant:
		prog.Set(a, slot, t.Operands[0])
	case ir.Add, ir.Sub, ir.Mul, ir.Div:
		for k, op := range x.Operands {
			x.Operands[k] = prog.NewTransposition(op, t.Pairs)
		}
		x.Shape = t.Shape
		prog.Set(a, slot, t.Operands[0])
	case ir.ScalarMul, ir.ScalarDiv:
		k := 1
		if x.Kind == ir.ScalarDiv {
			k = 0
		}
		x.Operands[k] = prog.NewTransposition(x.Operands[k], t.Pairs)
		x.Shape = t.Shape
		prog.Set(a, slot, t.Operands[0])
	case ir.Transposition:
		t.Pairs = append(append([]ir.Swap{}, x.Pairs...), t.Pairs...)
		t.Operands[0] = x.Operands[0]
	case ir.Product:
		if split(prog, t, x) {
			prog.Set(a, slot, t.Operands[0])
			return nil
		}
		lift.Hoist(prog, i, ir.Slot{Parent: tID, Index: 0})
	case ir.Contraction, ir.Stack:
		lift.Hoist(prog, i, ir.Slot{Parent: tID, Index: 0})
	default:
		return fmterr.Internalf("cannot transpose a %s node", x.Kind)
	}
	return nil
}

// split distributes a transposition over the operands of a product.
// It returns false if the transposition moves axes from one operand to the other.
func split(prog *ir.Program, t, product *ir.Node) bool {
	rank := t.Shape.Rank()
	axes := make([]int, rank)
	for i := range axes {
		axes[i] = i
	}
	perm := ir.Forward(t.Pairs, axes)
	lhsRank := prog.Node(product.Operands[0]).Shape.Rank()
	for i, ax := range perm {
		if (i < lhsRank) != (ax < lhsRank) {
			return false
		}
	}
	rhsPerm := make([]int, rank-lhsRank)
	for i, ax := range perm[lhsRank:] {
		rhsPerm[i] = ax - lhsRank
	}
	lhsSwaps := ir.PermutationSwaps(perm[:lhsRank])
	rhsSwaps := ir.PermutationSwaps(rhsPerm)
	if len(lhsSwaps) > 0 {
		product.Operands[0] = prog.NewTransposition(product.Operands[0], lhsSwaps)
	}
	if len(rhsSwaps) > 0 {
		product.Operands[1] = prog.NewTransposition(product.Operands[1], rhsSwaps)
	}
	product.Shape = t.Shape
	return true
}
