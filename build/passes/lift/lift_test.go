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

package lift_test

import (
	"testing"

	"github.com/gx-org/tensorc/build/builder"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/lift"
	"github.com/gx-org/tensorc/build/typed"
)

func TestLift(t *testing.T) {
	tests := []struct {
		build func(p *typed.Program, a, u *typed.Ident)
		want  string
	}{
		{
			build: func(p *typed.Program, a, u *typed.Ident) {
				p.Declare("v", ir.Output, 2)
				p.Assign("v", typed.Add(
					typed.Contraction(a, []int{1}, u, []int{0}),
					typed.ScalarMul(typed.Number(2), typed.Contraction(a, []int{0}, u, []int{0})),
				))
			},
			want: `t0 := contract(A, [1], u, [0])
t1 := contract(A, [0], u, [0])
v := (t0 + smul(2, t1))
`,
		},
		{
			build: func(p *typed.Program, a, u *typed.Ident) {
				p.Declare("w", ir.Output, 2, 2)
				p.Assign("w", typed.Contraction(a, []int{1}, typed.StackOf(typed.Contraction(a, []int{1}, u, []int{0}), u), []int{0}))
			},
			want: `t1 := contract(A, [1], u, [0])
t0 := stack(t1, u)
w := contract(A, [1], t0, [0])
`,
		},
		{
			build: func(p *typed.Program, a, u *typed.Ident) {
				p.Declare("v", ir.Output, 2)
				s := typed.Contraction(a, []int{1}, u, []int{0})
				p.Assign("v", typed.Add(s, s))
			},
			want: `t0 := contract(A, [1], u, [0])
t1 := contract(A, [1], u, [0])
v := (t0 + t1)
`,
		},
		{
			build: func(p *typed.Program, a, u *typed.Ident) {
				p.Declare("v", ir.Output, 2)
				p.Assign("v", typed.Contraction(a, []int{1}, u, []int{0}))
			},
			want: "v := contract(A, [1], u, [0])\n",
		},
	}
	for i, test := range tests {
		tp := &typed.Program{Name: "test"}
		a := tp.Declare("A", ir.Input, 2, 2)
		u := tp.Declare("u", ir.Input, 2)
		test.build(tp, a, u)
		prog, err := builder.Build(tp)
		if err != nil {
			t.Fatalf("test %d: %+v", i, err)
		}
		if err := lift.Lift(prog, lift.ContractionOrStack); err != nil {
			t.Errorf("test %d: %+v", i, err)
			continue
		}
		got := prog.String()
		if got != test.want {
			t.Errorf("test %d: got:\n%s\nbut want:\n%s", i, got, test.want)
		}
		if err := prog.Verify(ir.VerifyOptions{SingleUse: true, NoSharing: true}); err != nil {
			t.Errorf("test %d: %+v", i, err)
		}
		// Lifting a lifted program does not change it.
		if err := lift.Lift(prog, lift.ContractionOrStack); err != nil {
			t.Errorf("test %d: %+v", i, err)
			continue
		}
		if again := prog.String(); again != got {
			t.Errorf("test %d: lifting twice changed the program:\n%s\nwant:\n%s", i, again, got)
		}
	}
}

func TestHoist(t *testing.T) {
	tp := &typed.Program{Name: "test"}
	a := tp.Declare("A", ir.Input, 2, 3)
	tp.Declare("v", ir.Output, 2, 3)
	tp.Assign("v", typed.Add(a, typed.ScalarMul(typed.Number(3), a)))
	prog, err := builder.Build(tp)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	lift.Unshare(prog)
	read, next := lift.Hoist(prog, 0, ir.Slot{Parent: prog.Assignments[0].Expr, Index: 1})
	if next != 1 {
		t.Errorf("got index %d but want 1", next)
	}
	if got := prog.Node(read).Name; got != "t0" {
		t.Errorf("got read of %s but want t0", got)
	}
	want := "t0 := smul(3, A)\nv := (A + t0)\n"
	if got := prog.String(); got != want {
		t.Errorf("got:\n%s\nbut want:\n%s", got, want)
	}
}
