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

// Package loopfuse maps index names to tensor accesses and decides which loops can be shared.
//
// The index mapper names the loop index bound to every axis of the result of
// an assignment, and computes the subscript of every tensor access given
// these names. From these subscripts, the loop fuser decides if all the
// assignments of a program can share their outermost loop, and which
// assignments can be computed with a single flat loop.
package loopfuse

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/gx-org/tensorc/build/ir"
)

// Access is a read or a write of a tensor by an assignment.
type Access struct {
	// Node is the identifier of the access.
	Node ir.NodeID
	// Name of the tensor.
	Name string
	// Index is the subscript of the storage of the tensor.
	// Fixed indices are represented by their value prefixed with #.
	Index []string
	// Write is true for the destination of the assignment.
	Write bool
}

// ResultNames returns the names of the loop indices of a result of a given rank.
func ResultNames(rank int) []string {
	names := make([]string, rank)
	for i := range names {
		names[i] = fmt.Sprintf("i%d", i)
	}
	return names
}

// FixedIndex returns the representation of a fixed index in a subscript.
func FixedIndex(k int) string {
	return "#" + strconv.Itoa(k)
}

// Accesses returns the accesses of an assignment, starting with the write of its destination.
func Accesses(prog *ir.Program, a *ir.Assignment, result []string) []Access {
	dst := prog.Dst(a)
	accs := []Access{{
		Node:  a.Dst,
		Name:  dst.Name,
		Index: ir.Subscript(dst, result, FixedIndex),
		Write: true,
	}}
	next := 0
	var visit func(id ir.NodeID, idx []string)
	visit = func(id ir.NodeID, idx []string) {
		n := prog.Node(id)
		switch n.Kind {
		case ir.Identifier:
			accs = append(accs, Access{
				Node:  id,
				Name:  n.Name,
				Index: ir.Subscript(n, idx, FixedIndex),
			})
			return
		case ir.Constant:
			return
		}
		var contracted []string
		for range n.LhsAxes {
			contracted = append(contracted, fmt.Sprintf("k%d", next))
			next++
		}
		ops := ir.OperandIndices(prog, id, idx, contracted)
		for i, op := range n.Operands {
			visit(op, ops[i])
		}
	}
	visit(a.Expr, result)
	return accs
}

// AlwaysAdjacent returns true if, for every access, either the index x is
// immediately followed by the index y, or neither x nor y is used.
func AlwaysAdjacent(accs []Access, x, y string) bool {
	for _, acc := range accs {
		px := slices.Index(acc.Index, x)
		py := slices.Index(acc.Index, y)
		if px < 0 && py < 0 {
			continue
		}
		if px < 0 || py != px+1 {
			return false
		}
	}
	return true
}

// Fuse marks all the assignments of a program as sharing their outermost
// loop if the first stored axis of every destination is bound to a result
// axis of the same extent, and if every access to a tensor written by the
// program subscripts its first axis with that index.
// It returns true if the assignments have been fused.
func Fuse(prog *ir.Program) bool {
	if len(prog.Assignments) < 2 {
		return false
	}
	written := make(map[string]bool)
	for _, a := range prog.Assignments {
		written[prog.Dst(a).Name] = true
	}
	extent := -1
	axes := make([]int, len(prog.Assignments))
	for i, a := range prog.Assignments {
		dst := prog.Dst(a)
		stored, _ := prog.StoredShape(dst)
		if stored.Rank() == 0 {
			return false
		}
		if extent >= 0 && stored[0] != extent {
			return false
		}
		extent = stored[0]
		result := ResultNames(dst.Shape.Rank())
		accs := Accesses(prog, a, result)
		fused := accs[0].Index[0]
		axis := slices.Index(result, fused)
		if axis < 0 {
			// The first axis of the destination is fixed.
			return false
		}
		for _, acc := range accs {
			if !written[acc.Name] {
				continue
			}
			if len(acc.Index) == 0 || acc.Index[0] != fused {
				return false
			}
		}
		axes[i] = axis
	}
	for i, a := range prog.Assignments {
		a.Fused = true
		a.FuseAxis = axes[i]
	}
	prog.Fusion = &ir.Fusion{Extent: extent}
	return true
}

// Coalescible returns true if an assignment can be computed with a single flat loop
// over a row-major layout. Every access then reads or writes whole tensors
// of the shape of the result in the same order.
func Coalescible(prog *ir.Program, a *ir.Assignment) bool {
	dst := prog.Dst(a)
	if dst.Shape.Rank() < 2 || a.Fused {
		return false
	}
	plain := true
	prog.Walk(a.Expr, func(_ ir.Slot, id ir.NodeID) bool {
		n := prog.Node(id)
		if n.Kind.Permutes() {
			plain = false
		}
		if n.Kind == ir.Identifier && (len(n.Fixed) > 0 || len(n.Perm) > 0) {
			plain = false
		}
		return plain
	})
	if !plain || len(dst.Fixed) > 0 || len(dst.Perm) > 0 {
		return false
	}
	result := ResultNames(dst.Shape.Rank())
	accs := Accesses(prog, a, result)
	for i := 1; i < len(result); i++ {
		if !AlwaysAdjacent(accs, result[i-1], result[i]) {
			return false
		}
	}
	return true
}
