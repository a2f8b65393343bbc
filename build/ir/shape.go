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
	"fmt"
	"slices"
	"strings"
)

type (
	// Shape is the list of axis lengths of a tensor.
	// A shape with no axes is the shape of a scalar.
	Shape []int

	// Swap exchanges two axes given their positions.
	Swap struct {
		A, B int
	}
)

// Rank of the shape, that is its number of axes.
func (s Shape) Rank() int {
	return len(s)
}

// Size returns the number of elements of a tensor of the shape.
func (s Shape) Size() int {
	size := 1
	for _, d := range s {
		size *= d
	}
	return size
}

// Equal returns true if two shapes have the same axis lengths.
func (s Shape) Equal(o Shape) bool {
	return slices.Equal(s, o)
}

// Remove returns a copy of the shape without the axes at the given positions.
func (s Shape) Remove(axes []int) Shape {
	r := Shape{}
	for i, d := range s {
		if slices.Contains(axes, i) {
			continue
		}
		r = append(r, d)
	}
	return r
}

// Concat returns the axes of a shape followed by the axes of another.
func (s Shape) Concat(o Shape) Shape {
	return append(append(Shape{}, s...), o...)
}

// Permute returns the shape obtained by swapping axes, pairs being applied first to last.
func (s Shape) Permute(pairs []Swap) Shape {
	return Forward(pairs, s)
}

// Valid returns an error if an axis length is not strictly positive.
func (s Shape) Valid() error {
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("axis %d of shape %s has length %d", i, s, d)
		}
	}
	return nil
}

// String representation of the shape.
func (s Shape) String() string {
	ss := make([]string, len(s))
	for i, d := range s {
		ss[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(ss, ",") + "]"
}

// String representation of the swap.
func (sw Swap) String() string {
	return fmt.Sprintf("(%d,%d)", sw.A, sw.B)
}

// Forward applies a list of swaps to a list, first pair to last pair.
// This is how a transposition permutes the axes of a shape.
func Forward[T any](pairs []Swap, list []T) []T {
	r := slices.Clone(list)
	for _, p := range pairs {
		r[p.A], r[p.B] = r[p.B], r[p.A]
	}
	return r
}

// Backward applies a list of swaps to a list, last pair to first pair.
// Given the index list of a transposition result, Backward returns the
// index list of its operand.
func Backward[T any](pairs []Swap, list []T) []T {
	r := slices.Clone(list)
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		r[p.A], r[p.B] = r[p.B], r[p.A]
	}
	return r
}

// ValidSwaps returns an error if a pair refers to an axis outside of a rank.
func ValidSwaps(pairs []Swap, rank int) error {
	for _, p := range pairs {
		if p.A < 0 || p.A >= rank || p.B < 0 || p.B >= rank {
			return fmt.Errorf("swap %s out of range for rank %d", p, rank)
		}
	}
	return nil
}

// SwapsString returns a string representation of a list of swaps.
func SwapsString(pairs []Swap) string {
	var b strings.Builder
	b.WriteString("[")
	for _, p := range pairs {
		b.WriteString(p.String())
	}
	b.WriteString("]")
	return b.String()
}

// PermutationSwaps returns a list of swaps moving the element at position perm[i] to position i.
// Applied with Forward, the swaps reorder a list l into [l[perm[0]], l[perm[1]], ...].
func PermutationSwaps(perm []int) []Swap {
	// cur[i] is the original position of the element currently at position i.
	cur := make([]int, len(perm))
	for i := range cur {
		cur[i] = i
	}
	var swaps []Swap
	for i, want := range perm {
		j := slices.Index(cur, want)
		if j == i {
			continue
		}
		swaps = append(swaps, Swap{A: i, B: j})
		cur[i], cur[j] = cur[j], cur[i]
	}
	return swaps
}
