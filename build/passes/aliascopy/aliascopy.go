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

// Package aliascopy breaks aliasing between the destination of an assignment and its operands.
//
// Loop nests write the destination element by element. When the expression
// reads the destination at a different element than the one being written,
// for example through a transposition or a contraction, the read may observe
// a value already overwritten. The pass copies the destination into a
// synthesized tensor before the assignment and reads the copy instead.
package aliascopy

import (
	"slices"

	"github.com/gx-org/tensorc/build/ir"
)

// Prefix of the names of the tensors introduced by the pass.
const Prefix = "old"

// Copy inserts copies for every assignment reading its own destination at a different element.
func Copy(prog *ir.Program) error {
	for i := 0; i < len(prog.Assignments); i++ {
		if copyAt(prog, i) {
			i++
		}
	}
	return prog.Verify(ir.VerifyOptions{NoSharing: true})
}

// Incompatible returns the slots of the reads of the destination of an assignment
// that do not read the element being written.
func Incompatible(prog *ir.Program, a *ir.Assignment) []ir.Slot {
	dst := prog.Dst(a)
	var slots []ir.Slot
	var visit func(slot ir.Slot, id ir.NodeID, permuted bool)
	visit = func(slot ir.Slot, id ir.NodeID, permuted bool) {
		n := prog.Node(id)
		if n.Kind == ir.Identifier {
			if n.Name == dst.Name && (permuted || !sameMapping(n, dst)) {
				slots = append(slots, slot)
			}
			return
		}
		permuted = permuted || n.Kind.Permutes()
		for i, op := range n.Operands {
			visit(ir.Slot{Parent: id, Index: i}, op, permuted)
		}
	}
	visit(ir.Slot{Parent: ir.NoNode}, a.Expr, false)
	return slots
}

func sameMapping(x, y *ir.Node) bool {
	return slices.Equal(x.Fixed, y.Fixed) && slices.Equal(x.Perm, y.Perm)
}

func copyAt(prog *ir.Program, i int) bool {
	a := prog.Assignments[i]
	slots := Incompatible(prog, a)
	if len(slots) == 0 {
		return false
	}
	dst := prog.Dst(a)
	stored, _ := prog.StoredShape(dst)
	sym := prog.Synthesize(Prefix, stored)
	for _, slot := range slots {
		var old *ir.Node
		if slot.Parent == ir.NoNode {
			old = prog.Node(a.Expr)
		} else {
			old = prog.Node(prog.Node(slot.Parent).Operands[slot.Index])
		}
		prog.Set(a, slot, prog.NewAnnotatedIdent(sym.Name, old.Shape, old.Fixed, old.Perm))
	}
	prog.Insert(i, ir.NewAssignment(
		prog.NewIdent(sym.Name, stored),
		prog.NewIdent(dst.Name, stored),
	))
	return true
}
