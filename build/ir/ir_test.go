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

package ir_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
)

var chain = []ir.Swap{{A: 0, B: 1}, {A: 1, B: 2}, {A: 2, B: 3}}

func TestForwardBackward(t *testing.T) {
	list := []int{2, 3, 4, 5}
	if got, want := ir.Forward(chain, list), []int{3, 4, 5, 2}; !cmp.Equal(got, want) {
		t.Errorf("Forward: got %v but want %v", got, want)
	}
	if got, want := ir.Backward(chain, list), []int{5, 2, 3, 4}; !cmp.Equal(got, want) {
		t.Errorf("Backward: got %v but want %v", got, want)
	}
	if got := ir.Backward(chain, ir.Forward(chain, list)); !cmp.Equal(got, list) {
		t.Errorf("Backward(Forward(l)): got %v but want %v", got, list)
	}
	if !cmp.Equal(list, []int{2, 3, 4, 5}) {
		t.Errorf("input list modified: %v", list)
	}
}

func TestPermutationSwaps(t *testing.T) {
	tests := [][]int{
		{0, 1, 2},
		{2, 0, 1},
		{1, 0},
		{3, 1, 0, 2},
	}
	for _, perm := range tests {
		list := []string{"a", "b", "c", "d"}[:len(perm)]
		want := make([]string, len(perm))
		for i, p := range perm {
			want[i] = list[p]
		}
		got := ir.Forward(ir.PermutationSwaps(perm), list)
		if !cmp.Equal(got, want) {
			t.Errorf("permutation %v: got %v but want %v", perm, got, want)
		}
	}
}

func TestShape(t *testing.T) {
	s := ir.Shape{2, 3, 4}
	if got, want := s.Remove([]int{1}), (ir.Shape{2, 4}); !got.Equal(want) {
		t.Errorf("Remove: got %v but want %v", got, want)
	}
	if got, want := s.Size(), 24; got != want {
		t.Errorf("Size: got %d but want %d", got, want)
	}
	if got, want := (ir.Shape{}).Size(), 1; got != want {
		t.Errorf("scalar Size: got %d but want %d", got, want)
	}
	if got, want := s.String(), "[2,3,4]"; got != want {
		t.Errorf("String: got %q but want %q", got, want)
	}
	if err := (ir.Shape{2, 0}).Valid(); err == nil {
		t.Errorf("expected an error for an empty axis")
	}
}

func newTestProgram() (*ir.Program, *ir.Symbols) {
	syms := ir.NewSymbols()
	syms.Declare(&ir.Symbol{Name: "A", Shape: ir.Shape{2, 3}, Kind: ir.Input})
	syms.Declare(&ir.Symbol{Name: "u", Shape: ir.Shape{3}, Kind: ir.Input})
	syms.Declare(&ir.Symbol{Name: "v", Shape: ir.Shape{2}, Kind: ir.Output})
	syms.Declare(&ir.Symbol{Name: "c", Shape: ir.Shape{2, 2}, Kind: ir.InOut})
	return ir.NewProgram("test", syms), syms
}

func TestConstructorShapes(t *testing.T) {
	p, _ := newTestProgram()
	a := p.NewIdent("A", ir.Shape{2, 3})
	u := p.NewIdent("u", ir.Shape{3})
	tests := []struct {
		id   ir.NodeID
		want ir.Shape
		str  string
	}{
		{
			id:   p.NewProduct(a, u),
			want: ir.Shape{2, 3, 3},
			str:  "outer(A, u)",
		},
		{
			id:   p.NewContraction(a, []int{1}, u, []int{0}),
			want: ir.Shape{2},
			str:  "contract(A, [1], u, [0])",
		},
		{
			id:   p.NewTransposition(a, []ir.Swap{{A: 0, B: 1}}),
			want: ir.Shape{3, 2},
			str:  "transpose(A, [(0,1)])",
		},
		{
			id:   p.NewStack(u, u),
			want: ir.Shape{2, 3},
			str:  "stack(u, u)",
		},
		{
			id:   p.NewScalarMul(p.NewConstant(2.5), a),
			want: ir.Shape{2, 3},
			str:  "smul(2.5, A)",
		},
		{
			id:   p.NewBinary(ir.Sub, a, a),
			want: ir.Shape{2, 3},
			str:  "(A - A)",
		},
		{
			id:   p.NewAnnotatedIdent("c", ir.Shape{2}, []int{1}, []ir.Swap{{A: 0, B: 1}}),
			want: ir.Shape{2},
			str:  "c{1}^[(0,1)]",
		},
	}
	for i, test := range tests {
		n := p.Node(test.id)
		if !n.Shape.Equal(test.want) {
			t.Errorf("test %d: got shape %v but want %v", i, n.Shape, test.want)
		}
		if got := p.ExprString(test.id); got != test.str {
			t.Errorf("test %d: got %q but want %q", i, got, test.str)
		}
	}
}

func TestSubscript(t *testing.T) {
	p, _ := newTestProgram()
	id := p.NewAnnotatedIdent("c", ir.Shape{2}, []int{1}, []ir.Swap{{A: 0, B: 1}})
	got := ir.Subscript(p.Node(id), []string{"i"}, strconv.Itoa)
	if want := []string{"i", "1"}; !cmp.Equal(got, want) {
		t.Errorf("got %v but want %v", got, want)
	}
}

func TestOperandIndices(t *testing.T) {
	p, _ := newTestProgram()
	a := p.NewIdent("A", ir.Shape{2, 3})
	tests := []struct {
		id     ir.NodeID
		result []string
		want   [][]string
	}{
		{
			id:     p.NewContraction(a, []int{0}, a, []int{0}),
			result: []string{"i", "j"},
			want:   [][]string{{"k", "i"}, {"k", "j"}},
		},
		{
			id:     p.NewContraction(a, []int{1}, p.NewIdent("u", ir.Shape{3}), []int{0}),
			result: []string{"i"},
			want:   [][]string{{"i", "k"}, {"k"}},
		},
		{
			id:     p.NewProduct(a, p.NewIdent("u", ir.Shape{3})),
			result: []string{"i", "j", "l"},
			want:   [][]string{{"i", "j"}, {"l"}},
		},
		{
			id:     p.NewTransposition(a, []ir.Swap{{A: 0, B: 1}}),
			result: []string{"i", "j"},
			want:   [][]string{{"j", "i"}},
		},
		{
			id:     p.NewScalarDiv(a, p.NewConstant(2)),
			result: []string{"i", "j"},
			want:   [][]string{{"i", "j"}, nil},
		},
	}
	for i, test := range tests {
		got := ir.OperandIndices(p, test.id, test.result, []string{"k"})
		if !cmp.Equal(got, test.want) {
			t.Errorf("test %d: %s: got %v but want %v", i, p.ExprString(test.id), got, test.want)
		}
	}
}

func TestFormals(t *testing.T) {
	_, syms := newTestProgram()
	syms.Declare(&ir.Symbol{Name: "tmp", Shape: ir.Shape{2}, Kind: ir.Local})
	var got []string
	for _, sym := range syms.Formals() {
		got = append(got, sym.Name)
	}
	if want := []string{"A", "u", "c", "v"}; !cmp.Equal(got, want) {
		t.Errorf("got formals %v but want %v", got, want)
	}
	bufs := syms.Buffers()
	if len(bufs) != 1 || bufs[0].Name != "tmp" {
		t.Errorf("got buffers %v but want [tmp]", bufs)
	}
}

func TestSynthesize(t *testing.T) {
	_, syms := newTestProgram()
	syms.Declare(&ir.Symbol{Name: "t0", Shape: ir.Shape{2}, Kind: ir.Local})
	p := ir.NewProgram("test", syms)
	sym := p.Synthesize("t", ir.Shape{3})
	if sym.Name == "t0" {
		t.Errorf("synthesized name collides with a declared name")
	}
	if _, ok := p.Symbols.Lookup(sym.Name); !ok {
		t.Errorf("synthesized symbol %s not declared", sym.Name)
	}
	if !sym.Kind.IsSynthesized() {
		t.Errorf("got kind %s but want synthesized", sym.Kind)
	}
}

func TestClone(t *testing.T) {
	p, _ := newTestProgram()
	a := p.NewIdent("A", ir.Shape{2, 3})
	root := p.NewBinary(ir.Add, a, a)
	c := p.Clone(root)
	if c == root {
		t.Fatalf("clone returned the same node")
	}
	if got, want := p.ExprString(c), p.ExprString(root); got != want {
		t.Errorf("got %q but want %q", got, want)
	}
	ops := p.Node(c).Operands
	if ops[0] == a || ops[1] == a || ops[0] == ops[1] {
		t.Errorf("clone shares nodes with the original tree: %v", ops)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		build func(p *ir.Program)
		opts  ir.VerifyOptions
		err   string
	}{
		{
			build: func(p *ir.Program) {
				a := p.NewIdent("A", ir.Shape{2, 3})
				u := p.NewIdent("u", ir.Shape{3})
				p.Insert(0, ir.NewAssignment(p.NewIdent("v", ir.Shape{2}), p.NewContraction(a, []int{1}, u, []int{0})))
			},
		},
		{
			build: func(p *ir.Program) {
				a := p.NewIdent("A", ir.Shape{2, 3})
				p.Insert(0, ir.NewAssignment(p.NewIdent("v", ir.Shape{2}), a))
			},
			err: "does not match expression shape",
		},
		{
			build: func(p *ir.Program) {
				u := p.NewIdent("u", ir.Shape{3})
				p.Insert(0, ir.NewAssignment(p.NewIdent("v", ir.Shape{2}), p.NewStack(u, u)))
			},
			opts: ir.VerifyOptions{NoKinds: []ir.Kind{ir.Stack}},
			err:  "unexpected stack node",
		},
		{
			build: func(p *ir.Program) {
				tmp := p.Synthesize("t", ir.Shape{2})
				v := p.NewIdent("v", ir.Shape{2})
				p.Insert(0, ir.NewAssignment(v, p.NewIdent(tmp.Name, ir.Shape{2})))
			},
			err: "read before being written",
		},
		{
			build: func(p *ir.Program) {
				a := p.NewIdent("A", ir.Shape{2, 3})
				sum := p.NewBinary(ir.Add, a, a)
				p.Insert(0, ir.NewAssignment(p.NewIdent("A", ir.Shape{2, 3}), sum))
			},
			opts: ir.VerifyOptions{NoSharing: true},
			err:  "is shared",
		},
		{
			build: func(p *ir.Program) {
				tmp := p.Synthesize("t", ir.Shape{2})
				a := p.NewIdent("A", ir.Shape{2, 3})
				u := p.NewIdent("u", ir.Shape{3})
				p.Insert(0, ir.NewAssignment(p.NewIdent(tmp.Name, ir.Shape{2}), p.NewContraction(a, []int{1}, u, []int{0})))
			},
			opts: ir.VerifyOptions{SingleUse: true},
			err:  "read 0 times",
		},
		{
			build: func(p *ir.Program) {
				c := p.NewAnnotatedIdent("c", ir.Shape{2}, []int{2}, nil)
				p.Insert(0, ir.NewAssignment(c, p.NewIdent("v", ir.Shape{2})))
			},
			err: "out of range",
		},
	}
	for i, test := range tests {
		p, _ := newTestProgram()
		test.build(p)
		err := p.Verify(test.opts)
		if test.err == "" {
			if err != nil {
				t.Errorf("test %d: unexpected error:\n%+v", i, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("test %d: expected an error containing %q but got nil", i, test.err)
			continue
		}
		if !fmterr.IsInternal(err) {
			t.Errorf("test %d: error %v is not internal", i, err)
		}
		if !strings.Contains(err.Error(), test.err) {
			t.Errorf("test %d: got error %q but want an error containing %q", i, err.Error(), test.err)
		}
	}
}
