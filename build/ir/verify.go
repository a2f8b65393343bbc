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
	"sort"

	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
)

// VerifyOptions selects the optional checks of Verify.
type VerifyOptions struct {
	// SingleUse checks that every synthesized tensor is read exactly once.
	SingleUse bool
	// NoSharing checks that no node is reachable twice.
	NoSharing bool
	// NoKinds lists kinds that cannot appear in the program.
	NoKinds []Kind
	// NoNested lists kinds that can only appear at the root of an assignment.
	NoNested []Kind
}

type verifier struct {
	prog *Program
	opts VerifyOptions
	errs error

	// defs maps a synthesized destination (name and fixed indices) to its number of definitions.
	defs    map[string]int
	written map[string]bool
	reads   map[string]int
	seen    map[NodeID]bool
}

// Verify checks the invariants of a program.
// All violations are accumulated and returned as a single internal error.
func (p *Program) Verify(opts VerifyOptions) error {
	v := &verifier{
		prog:    p,
		opts:    opts,
		defs:    make(map[string]int),
		written: make(map[string]bool),
		reads:   make(map[string]int),
		seen:    make(map[NodeID]bool),
	}
	for i, a := range p.Assignments {
		v.assignment(i, a)
	}
	v.synthesized()
	if v.errs == nil {
		return nil
	}
	return fmterr.Internal(errors.Wrapf(v.errs, "program %s is invalid", p.Name))
}

func (v *verifier) appendf(i int, format string, a ...any) {
	err := errors.Errorf(format, a...)
	if i >= 0 {
		err = errors.Wrapf(err, "assignment %d %q", i, v.prog.AssignmentString(v.prog.Assignments[i]))
	}
	v.errs = multierr.Append(v.errs, err)
}

func (v *verifier) assignment(i int, a *Assignment) {
	dst := v.prog.nodes[a.Dst]
	if dst.Kind != Identifier {
		v.appendf(i, "destination is a %s, not an identifier", dst.Kind)
		return
	}
	v.share(i, a.Dst)
	v.ident(i, dst)
	root := v.prog.nodes[a.Expr]
	if !dst.Shape.Equal(root.Shape) {
		v.appendf(i, "destination shape %s does not match expression shape %s", dst.Shape, root.Shape)
	}
	v.prog.Walk(a.Expr, func(slot Slot, id NodeID) bool {
		v.share(i, id)
		n := v.prog.nodes[id]
		if slices.Contains(v.opts.NoKinds, n.Kind) {
			v.appendf(i, "unexpected %s node", n.Kind)
		}
		if slot.Parent != NoNode && slices.Contains(v.opts.NoNested, n.Kind) {
			v.appendf(i, "%s node nested in a %s node", n.Kind, v.prog.nodes[slot.Parent].Kind)
		}
		v.node(i, n)
		if n.Kind == Identifier {
			v.read(i, n)
		}
		return true
	})
	v.written[dst.Name] = true
	if sym, ok := v.prog.Symbols.Lookup(dst.Name); ok {
		if sym.Kind.IsSynthesized() {
			v.defs[IdentString(&Node{Name: dst.Name, Fixed: dst.Fixed})]++
		}
		if sym.Kind == Input {
			v.appendf(i, "%s is an input and cannot be written", dst.Name)
		}
	}
}

func (v *verifier) share(i int, id NodeID) {
	if !v.opts.NoSharing {
		return
	}
	if v.seen[id] {
		v.appendf(i, "node %d %q is shared", id, v.prog.ExprString(id))
	}
	v.seen[id] = true
}

func (v *verifier) read(i int, n *Node) {
	sym, ok := v.prog.Symbols.Lookup(n.Name)
	if !ok {
		return
	}
	v.reads[n.Name]++
	if sym.Kind.IsInput() {
		return
	}
	if !v.written[n.Name] {
		v.appendf(i, "%s read before being written", n.Name)
	}
}

func (v *verifier) ident(i int, n *Node) {
	stored, ok := v.prog.StoredShape(n)
	if !ok {
		v.appendf(i, "undeclared tensor %s", n.Name)
		return
	}
	if len(n.Fixed)+n.Shape.Rank() != stored.Rank() {
		v.appendf(i, "%s has %d fixed indices and rank %d but its storage has rank %d", IdentString(n), len(n.Fixed), n.Shape.Rank(), stored.Rank())
		return
	}
	if err := ValidSwaps(n.Perm, stored.Rank()); err != nil {
		v.appendf(i, "%s: %v", IdentString(n), err)
		return
	}
	logical := Forward(n.Perm, stored)
	for axis, f := range n.Fixed {
		if f < 0 || f >= logical[axis] {
			v.appendf(i, "%s: fixed index %d out of range [0,%d)", IdentString(n), f, logical[axis])
		}
	}
	if got := Shape(logical[len(n.Fixed):]); !got.Equal(n.Shape) {
		v.appendf(i, "%s has shape %s but its storage %s gives %s", IdentString(n), n.Shape, stored, got)
	}
}

func (v *verifier) operands(n *Node) []*Node {
	ops := make([]*Node, len(n.Operands))
	for i, op := range n.Operands {
		ops[i] = v.prog.nodes[op]
	}
	return ops
}

func (v *verifier) node(i int, n *Node) {
	ops := v.operands(n)
	wantOperands := map[Kind]int{
		Identifier: 0, Constant: 0,
		Add: 2, Sub: 2, Mul: 2, Div: 2,
		ScalarMul: 2, ScalarDiv: 2,
		Product: 2, Contraction: 2,
		Transposition: 1,
	}
	if want, ok := wantOperands[n.Kind]; ok && len(ops) != want {
		v.appendf(i, "%s node has %d operands but want %d", n.Kind, len(ops), want)
		return
	}
	var want Shape
	switch n.Kind {
	case Identifier:
		return
	case Constant:
		want = Shape{}
	case Add, Sub, Mul, Div:
		if !ops[0].Shape.Equal(ops[1].Shape) {
			v.appendf(i, "%s between shapes %s and %s", n.Kind, ops[0].Shape, ops[1].Shape)
		}
		want = ops[0].Shape
	case ScalarMul, ScalarDiv:
		scalar, tensor := ops[0], ops[1]
		if n.Kind == ScalarDiv {
			scalar, tensor = tensor, scalar
		}
		if scalar.Shape.Rank() != 0 {
			v.appendf(i, "%s scalar operand has shape %s", n.Kind, scalar.Shape)
		}
		want = tensor.Shape
	case Product:
		want = ops[0].Shape.Concat(ops[1].Shape)
	case Contraction:
		if len(n.LhsAxes) != len(n.RhsAxes) {
			v.appendf(i, "contraction over %d left axes and %d right axes", len(n.LhsAxes), len(n.RhsAxes))
			return
		}
		for t := range n.LhsAxes {
			l, r := n.LhsAxes[t], n.RhsAxes[t]
			if l < 0 || l >= ops[0].Shape.Rank() || r < 0 || r >= ops[1].Shape.Rank() {
				v.appendf(i, "contracted axes (%d,%d) out of range", l, r)
				return
			}
			if ops[0].Shape[l] != ops[1].Shape[r] {
				v.appendf(i, "contracted axes (%d,%d) have lengths %d and %d", l, r, ops[0].Shape[l], ops[1].Shape[r])
			}
		}
		want = ops[0].Shape.Remove(n.LhsAxes).Concat(ops[1].Shape.Remove(n.RhsAxes))
	case Stack:
		if len(ops) == 0 {
			v.appendf(i, "empty stack")
			return
		}
		for _, op := range ops[1:] {
			if !op.Shape.Equal(ops[0].Shape) {
				v.appendf(i, "stack members have shapes %s and %s", ops[0].Shape, op.Shape)
			}
		}
		want = Shape{len(ops)}.Concat(ops[0].Shape)
	case Transposition:
		if err := ValidSwaps(n.Pairs, ops[0].Shape.Rank()); err != nil {
			v.appendf(i, "%v", err)
			return
		}
		want = ops[0].Shape.Permute(n.Pairs)
	default:
		v.appendf(i, "invalid node kind %s", n.Kind)
		return
	}
	if !n.Shape.Equal(want) {
		v.appendf(i, "%s node has shape %s but want %s", n.Kind, n.Shape, want)
	}
}

func (v *verifier) synthesized() {
	defined := make(map[string]bool)
	keys := maps.Keys(v.defs)
	sort.Strings(keys)
	for _, key := range keys {
		if n := v.defs[key]; n != 1 {
			v.appendf(-1, "synthesized destination %s defined %d times", key, n)
		}
	}
	for _, a := range v.prog.Assignments {
		defined[v.prog.nodes[a.Dst].Name] = true
	}
	for sym := range v.prog.Symbols.All() {
		if !sym.Kind.IsSynthesized() {
			continue
		}
		if !defined[sym.Name] {
			v.appendf(-1, "synthesized tensor %s is never defined", sym.Name)
		}
		if v.opts.SingleUse && v.reads[sym.Name] != 1 {
			v.appendf(-1, "synthesized tensor %s is read %d times", sym.Name, v.reads[sym.Name])
		}
	}
}
