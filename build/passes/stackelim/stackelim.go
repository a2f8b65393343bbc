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

// Package stackelim replaces stack nodes by one assignment per member.
//
// The pass runs after lifting: stacks are only found at the root of an
// assignment. An assignment dst := stack(m0, m1, ...) is replaced by the
// assignments dst{0} := m0, dst{1} := m1, ... where dst{k} is dst with its
// leading stacked axis fixed to k.
package stackelim

import (
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
)

// Prefix of the names of the tensors introduced by the pass.
const Prefix = "s"

// Eliminate removes all stack nodes from a program.
func Eliminate(prog *ir.Program) error {
	// Stacks are processed from the last assignment to the first such that,
	// when a member is the result of another stack, the index of the member
	// is fixed before the indices of the inner stack.
	for i := len(prog.Assignments) - 1; i >= 0; i-- {
		a := prog.Assignments[i]
		root := prog.Node(a.Expr)
		if root.Kind != ir.Stack {
			continue
		}
		if err := eliminate(prog, i); err != nil {
			return fmterr.Stmt(i, prog.Dst(a).Name, err)
		}
	}
	return prog.Verify(ir.VerifyOptions{
		NoKinds:   []ir.Kind{ir.Stack},
		NoSharing: true,
	})
}

// member returns the destination of the member k of a stack writing into dst.
func member(prog *ir.Program, dst *ir.Node, k int, shape ir.Shape) ir.NodeID {
	fixed := append(append([]int{}, dst.Fixed...), k)
	return prog.NewAnnotatedIdent(dst.Name, shape, fixed, dst.Perm)
}

func eliminate(prog *ir.Program, i int) error {
	a := prog.Assignments[i]
	dst := prog.Dst(a)
	members := prog.Node(a.Expr).Operands
	var pre, group []*ir.Assignment
	for k, m := range members {
		mNode := prog.Node(m)
		if mNode.Kind == ir.Stack {
			return fmterr.Internalf("nested stack %s", prog.ExprString(a.Expr))
		}
		if j, ok := renamable(prog, i, m, dst.Name); ok {
			def := prog.Assignments[j]
			prog.Symbols.Remove(mNode.Name)
			def.Dst = member(prog, dst, k, mNode.Shape)
			continue
		}
		if prog.Reads(m, dst.Name) {
			// The member reads the destination: its value is computed before any member is written.
			sym := prog.Synthesize(Prefix, mNode.Shape)
			pre = append(pre, ir.NewAssignment(prog.NewIdent(sym.Name, mNode.Shape), m))
			m = prog.NewIdent(sym.Name, mNode.Shape)
		}
		group = append(group, ir.NewAssignment(member(prog, dst, k, mNode.Shape), m))
	}
	prog.Replace(i, append(pre, group...)...)
	return nil
}

// renamable returns the index of the definition of a member if the destination of
// that definition can be replaced by the destination of the member.
func renamable(prog *ir.Program, i int, m ir.NodeID, dstName string) (int, bool) {
	n := prog.Node(m)
	if n.Kind != ir.Identifier || len(n.Fixed) > 0 || len(n.Perm) > 0 {
		return 0, false
	}
	sym, ok := prog.Symbols.Lookup(n.Name)
	if !ok || !sym.Kind.IsSynthesized() {
		return 0, false
	}
	def := -1
	uses := 0
	for j, a := range prog.Assignments {
		if prog.Dst(a).Name == n.Name {
			if def >= 0 || j >= i {
				return 0, false
			}
			def = j
		}
		for _, id := range prog.Idents(a.Expr) {
			if prog.Node(id).Name == n.Name {
				uses++
			}
		}
	}
	if def < 0 || uses != 1 {
		return 0, false
	}
	defDst := prog.Dst(prog.Assignments[def])
	if len(defDst.Fixed) > 0 || len(defDst.Perm) > 0 {
		return 0, false
	}
	// The write into the destination moves to the definition: the destination
	// cannot be read from the definition to the stack, nor written in between.
	for j := def; j <= i; j++ {
		a := prog.Assignments[j]
		if prog.Reads(a.Expr, dstName) {
			return 0, false
		}
		if j > def && j < i && prog.Dst(a).Name == dstName {
			return 0, false
		}
	}
	return def, true
}
