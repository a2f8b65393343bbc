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

package transpose_test

import (
	"testing"

	"github.com/gx-org/tensorc/build/builder"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/lift"
	"github.com/gx-org/tensorc/build/passes/transpose"
	"github.com/gx-org/tensorc/build/typed"
)

var swap01 = ir.Swap{A: 0, B: 1}

func TestResolve(t *testing.T) {
	tests := []struct {
		build func(p *typed.Program, a, b, u *typed.Ident)
		want  string
	}{
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("v", ir.Output, 3, 2)
				p.Assign("v", typed.Transposition(typed.Add(a, a), swap01))
			},
			want: "v := (A^[(0,1)] + A^[(0,1)])\n",
		},
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("v", ir.Output, 2, 3)
				p.Assign("v", typed.Transposition(typed.Transposition(a, swap01), swap01))
			},
			want: "v := A^[(0,1)(0,1)]\n",
		},
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("v", ir.Output, 3, 2)
				p.Assign("v", typed.Transposition(typed.ScalarMul(typed.Number(2), a), swap01))
			},
			want: "v := smul(2, A^[(0,1)])\n",
		},
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("P", ir.Output, 3, 2, 4)
				p.Assign("P", typed.Transposition(typed.Outer(a, u), swap01))
			},
			want: "P := outer(A^[(0,1)], u)\n",
		},
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("Q", ir.Output, 2, 4, 3)
				p.Assign("Q", typed.Transposition(typed.Outer(a, u), ir.Swap{A: 1, B: 2}))
			},
			want: `t0 := outer(A, u)
Q := t0^[(1,2)]
`,
		},
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("Q", ir.Output, 2, 4, 3)
				p.Assign("Q", typed.Transposition(typed.Outer(typed.Transposition(b, swap01), u), ir.Swap{A: 1, B: 2}))
			},
			want: `t0 := outer(B^[(0,1)], u)
Q := t0^[(1,2)]
`,
		},
		{
			build: func(p *typed.Program, a, b, u *typed.Ident) {
				p.Declare("w", ir.Output, 3, 3)
				p.Assign("w", typed.Contraction(typed.Transposition(a, swap01), []int{1}, b, []int{1}))
			},
			want: "w := contract(A^[(0,1)], [1], B, [1])\n",
		},
	}
	for i, test := range tests {
		tp := &typed.Program{Name: "test"}
		a := tp.Declare("A", ir.Input, 2, 3)
		b := tp.Declare("B", ir.Input, 3, 2)
		u := tp.Declare("u", ir.Input, 4)
		test.build(tp, a, b, u)
		prog, err := builder.Build(tp)
		if err != nil {
			t.Fatalf("test %d: %+v", i, err)
		}
		if err := lift.Lift(prog, lift.ContractionOrStack); err != nil {
			t.Fatalf("test %d: %+v", i, err)
		}
		if err := transpose.Resolve(prog); err != nil {
			t.Errorf("test %d: %+v", i, err)
			continue
		}
		if got := prog.String(); got != test.want {
			t.Errorf("test %d: got:\n%s\nbut want:\n%s", i, got, test.want)
		}
	}
}

func TestFixedIdentifier(t *testing.T) {
	syms := ir.NewSymbols()
	syms.Declare(&ir.Symbol{Name: "c", Shape: ir.Shape{2, 2, 3}, Kind: ir.Input})
	syms.Declare(&ir.Symbol{Name: "v", Shape: ir.Shape{3, 2}, Kind: ir.Output})
	prog := ir.NewProgram("test", syms)
	c1 := prog.NewAnnotatedIdent("c", ir.Shape{2, 3}, []int{1}, nil)
	prog.Assignments = append(prog.Assignments, ir.NewAssignment(
		prog.NewIdent("v", ir.Shape{3, 2}),
		prog.NewTransposition(c1, []ir.Swap{swap01}),
	))
	if err := transpose.Resolve(prog); err != nil {
		t.Fatalf("%+v", err)
	}
	if got, want := prog.String(), "v := c{1}^[(1,2)]\n"; got != want {
		t.Errorf("got %q but want %q", got, want)
	}
}
