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
	"strconv"
	"strings"
)

func intsString(ints []int) string {
	ss := make([]string, len(ints))
	for i, v := range ints {
		ss[i] = strconv.Itoa(v)
	}
	return strings.Join(ss, ",")
}

// IdentString returns the string representation of an identifier with its annotations.
func IdentString(n *Node) string {
	s := n.Name
	if len(n.Fixed) > 0 {
		s += "{" + intsString(n.Fixed) + "}"
	}
	if len(n.Perm) > 0 {
		s += "^" + SwapsString(n.Perm)
	}
	return s
}

// ExprString returns the string representation of a tree.
func (p *Program) ExprString(id NodeID) string {
	n := p.nodes[id]
	op := func(i int) string {
		return p.ExprString(n.Operands[i])
	}
	switch n.Kind {
	case Identifier:
		return IdentString(n)
	case Constant:
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	case Add, Sub, Mul, Div:
		return fmt.Sprintf("(%s %s %s)", op(0), n.Kind.Operator(), op(1))
	case ScalarMul:
		return fmt.Sprintf("smul(%s, %s)", op(0), op(1))
	case ScalarDiv:
		return fmt.Sprintf("sdiv(%s, %s)", op(0), op(1))
	case Product:
		return fmt.Sprintf("outer(%s, %s)", op(0), op(1))
	case Contraction:
		return fmt.Sprintf("contract(%s, [%s], %s, [%s])", op(0), intsString(n.LhsAxes), op(1), intsString(n.RhsAxes))
	case Stack:
		ss := make([]string, len(n.Operands))
		for i := range n.Operands {
			ss[i] = op(i)
		}
		return "stack(" + strings.Join(ss, ", ") + ")"
	case Transposition:
		return fmt.Sprintf("transpose(%s, %s)", op(0), SwapsString(n.Pairs))
	}
	return fmt.Sprintf("<%s>", n.Kind)
}

// AssignmentString returns the string representation of an assignment.
func (p *Program) AssignmentString(a *Assignment) string {
	s := IdentString(p.nodes[a.Dst]) + " := " + p.ExprString(a.Expr)
	if a.Fused {
		s += fmt.Sprintf(" @fuse(%d)", a.FuseAxis)
	}
	return s
}

// String returns the assignments of the program, one per line.
func (p *Program) String() string {
	var b strings.Builder
	for _, a := range p.Assignments {
		b.WriteString(p.AssignmentString(a))
		b.WriteString("\n")
	}
	return b.String()
}
