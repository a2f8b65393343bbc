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

package ir

import (
	"slices"
)

// StoredShape returns the shape of the storage read or written by an identifier.
func (p *Program) StoredShape(n *Node) (Shape, bool) {
	sym, ok := p.Symbols.Lookup(n.Name)
	if !ok {
		return nil, false
	}
	return sym.Shape, true
}

// Subscript returns the subscript of the storage of an identifier
// given the indices of the axes of the identifier.
// The fixed indices of the identifier are converted with fixed before the
// deferred permutation is undone.
func Subscript[T any](n *Node, own []T, fixed func(int) T) []T {
	full := make([]T, 0, len(n.Fixed)+len(own))
	for _, f := range n.Fixed {
		full = append(full, fixed(f))
	}
	full = append(full, own...)
	return Backward(n.Perm, full)
}

// OperandIndices returns the index list of each operand of a node
// given the index list of its result.
// Contracted indices are consumed in order by contractions, one per pair of axes.
// The operands of a stack are indexed by the result indices without the leading stacked axis.
func OperandIndices[T any](p *Program, id NodeID, result, contracted []T) [][]T {
	n := p.nodes[id]
	switch n.Kind {
	case Add, Sub, Mul, Div:
		return [][]T{result, result}
	case ScalarMul:
		return [][]T{nil, result}
	case ScalarDiv:
		return [][]T{result, nil}
	case Product:
		split := p.nodes[n.Operands[0]].Shape.Rank()
		return [][]T{result[:split], result[split:]}
	case Contraction:
		lhs, next := interleave(p.nodes[n.Operands[0]].Shape.Rank(), n.LhsAxes, result, contracted)
		rhs, _ := interleave(p.nodes[n.Operands[1]].Shape.Rank(), n.RhsAxes, result[next:], contracted)
		return [][]T{lhs, rhs}
	case Stack:
		ops := make([][]T, len(n.Operands))
		for i := range ops {
			ops[i] = result[1:]
		}
		return ops
	case Transposition:
		return [][]T{Backward(n.Pairs, result)}
	}
	return nil
}

// interleave free and contracted indices into the index list of a contraction operand.
// It returns the list and the number of free indices consumed.
func interleave[T any](rank int, axes []int, free, contracted []T) ([]T, int) {
	idx := make([]T, rank)
	next := 0
	for pos := range idx {
		if t := slices.Index(axes, pos); t >= 0 {
			idx[pos] = contracted[t]
			continue
		}
		idx[pos] = free[next]
		next++
	}
	return idx, next
}
