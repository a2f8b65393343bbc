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

// Package lift hoists subexpressions out of nested positions into assignments of their own.
package lift

import (
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
)

// Predicate selects the nodes to lift.
type Predicate func(*ir.Node) bool

// Prefix of the names of the tensors introduced by the pass.
const Prefix = "t"

// ContractionOrStack selects contractions and stacks.
func ContractionOrStack(n *ir.Node) bool {
	return n.Kind == ir.Contraction || n.Kind == ir.Stack
}

// Lift rewrites a program such that nodes selected by a predicate are only
// found at the root of an assignment. Subtrees shared between several
// slots are first duplicated.
func Lift(prog *ir.Program, pred Predicate) error {
	Unshare(prog)
	for i := 0; i < len(prog.Assignments); i++ {
		i = liftAt(prog, i, pred)
	}
	if err := prog.Verify(ir.VerifyOptions{NoSharing: true}); err != nil {
		return err
	}
	for i, a := range prog.Assignments {
		if slot, _, found := findNested(prog, a.Expr, pred); found {
			return fmterr.Internalf("assignment %d %q: node %s still nested after lifting", i, prog.AssignmentString(a), prog.Node(prog.Node(slot.Parent).Operands[slot.Index]).Kind)
		}
	}
	return nil
}

// Unshare duplicates every node reachable more than once, such that every
// node of the program has a single parent.
func Unshare(prog *ir.Program) {
	seen := make(map[ir.NodeID]bool)
	for _, a := range prog.Assignments {
		if seen[a.Dst] {
			a.Dst = prog.Clone(a.Dst)
		}
		seen[a.Dst] = true
		prog.Walk(a.Expr, func(slot ir.Slot, id ir.NodeID) bool {
			if !seen[id] {
				seen[id] = true
				return true
			}
			prog.Set(a, slot, prog.Clone(id))
			return false
		})
	}
}

// liftAt lifts the nested nodes of the assignment at index i.
// It returns the index of the assignment once all its lifted nodes have been inserted before it.
func liftAt(prog *ir.Program, i int, pred Predicate) int {
	for {
		slot, _, found := findNested(prog, prog.Assignments[i].Expr, pred)
		if !found {
			return i
		}
		Hoist(prog, i, slot)
		// The hoisted assignment, at index i, may contain nested nodes as well.
		i = liftAt(prog, i, pred) + 1
	}
}

func findNested(prog *ir.Program, root ir.NodeID, pred Predicate) (slot ir.Slot, id ir.NodeID, found bool) {
	prog.Walk(root, func(s ir.Slot, n ir.NodeID) bool {
		if found {
			return false
		}
		if s.Parent != ir.NoNode && pred(prog.Node(n)) {
			slot, id, found = s, n, true
			return false
		}
		return true
	})
	return
}

// Hoist moves the subtree at a slot of the assignment at index i into a new
// assignment to a synthesized tensor inserted just before. The subtree is
// replaced by a read of the synthesized tensor.
// Hoist returns the read and the new index of the assignment.
func Hoist(prog *ir.Program, i int, slot ir.Slot) (ir.NodeID, int) {
	a := prog.Assignments[i]
	var removed ir.NodeID
	if slot.Parent == ir.NoNode {
		removed = a.Expr
	} else {
		removed = prog.Node(slot.Parent).Operands[slot.Index]
	}
	shape := prog.Node(removed).Shape
	sym := prog.Synthesize(Prefix, shape)
	read := prog.NewIdent(sym.Name, shape)
	prog.Set(a, slot, read)
	prog.Insert(i, ir.NewAssignment(prog.NewIdent(sym.Name, shape), removed))
	return read, i + 1
}
