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

package refeval_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gx-org/tensorc/api"
	"github.com/gx-org/tensorc/build/builder"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/lift"
	"github.com/gx-org/tensorc/build/passes/stackelim"
	"github.com/gx-org/tensorc/build/passes/transpose"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/gx-org/tensorc/internal/refeval"
)

func iota(n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i%7) - 2
	}
	return vals
}

// inputs returns values for all the inputs of a program.
func inputs(p *typed.Program) map[string][]float64 {
	vals := make(map[string][]float64)
	for _, decl := range p.Decls {
		if decl.Kind.IsInput() {
			vals[decl.Name] = iota(decl.Shape.Size())
		}
	}
	return vals
}

func lower(t *testing.T, p *typed.Program, fuse bool) *ir.Program {
	t.Helper()
	prog, err := api.NewCompiler(api.Options{Fuse: fuse}).Lower(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return prog
}

func TestEvalSelfTranspose(t *testing.T) {
	tp := &typed.Program{Name: "transpose"}
	a := tp.Declare("a", ir.InOut, 2, 2)
	tp.Assign("a", typed.Transposition(a, ir.Swap{A: 0, B: 1}))
	in := map[string][]float64{"a": {1, 2, 3, 4}}
	want := []float64{1, 3, 2, 4}

	dense, err := refeval.Eval(tp, in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := dense["a"].Flat(); !cmp.Equal(got, want) {
		t.Errorf("dense evaluation: got %v but want %v", got, want)
	}

	mem, err := refeval.Interpret(lower(t, tp, false), map[string][]float64{"a": {1, 2, 3, 4}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := mem["a"].Flat(); !cmp.Equal(got, want) {
		t.Errorf("compiled program: got %v but want %v", got, want)
	}

	// Without the copy of the old value, the transposition reads elements it has already written.
	prog, err := builder.Build(tp)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := transpose.Resolve(prog); err != nil {
		t.Fatalf("%+v", err)
	}
	mem, err = refeval.Interpret(prog, map[string][]float64{"a": {1, 2, 3, 4}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := mem["a"].Flat(); cmp.Equal(got, want) {
		t.Errorf("got %v without copying the old value: the interpreter does not expose aliasing", got)
	}
}

func TestEvalAdd(t *testing.T) {
	tp := &typed.Program{Name: "add"}
	a := tp.Declare("A", ir.Input, 3, 3)
	tp.Declare("v", ir.Output, 3, 3)
	tp.Assign("v", typed.Add(a, a))
	in := map[string][]float64{"A": {1, 2, 3, 4, 5, 6, 7, 8, 9}}
	want := []float64{2, 4, 6, 8, 10, 12, 14, 16, 18}
	dense, err := refeval.Eval(tp, in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := dense["v"].Flat(); !cmp.Equal(got, want) {
		t.Errorf("got %v but want %v", got, want)
	}
	mem, err := refeval.Interpret(lower(t, tp, false), in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := mem["v"].Flat(); !cmp.Equal(got, want) {
		t.Errorf("got %v but want %v", got, want)
	}
}

func TestEvalIdentity(t *testing.T) {
	tp := &typed.Program{Name: "identity"}
	a := tp.Declare("A", ir.Input, 2, 2)
	u := tp.Declare("u", ir.Input, 2)
	tp.Declare("P", ir.Output, 2, 2, 2)
	tp.Declare("v", ir.Output, 2)
	tp.Assign("P", typed.Outer(a, u))
	tp.Assign("v", typed.Contraction(a, []int{1}, u, []int{0}))
	in := map[string][]float64{
		"A": {1, 0, 0, 1},
		"u": {1, 2},
	}
	dense, err := refeval.Eval(tp, in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got, want := dense["v"].Flat(), []float64{1, 2}; !cmp.Equal(got, want) {
		t.Errorf("got %v but want %v", got, want)
	}
	if got, want := dense["P"].Flat(), []float64{1, 2, 0, 0, 0, 0, 1, 2}; !cmp.Equal(got, want) {
		t.Errorf("got %v but want %v", got, want)
	}
	mem, err := refeval.Interpret(lower(t, tp, false), in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got, want := mem["v"].Flat(), []float64{1, 2}; !cmp.Equal(got, want) {
		t.Errorf("got %v but want %v", got, want)
	}
}

func TestEvalSwapChain(t *testing.T) {
	tp := &typed.Program{Name: "chain"}
	a := tp.Declare("A", ir.Input, 2, 3, 4, 5)
	tp.Declare("B", ir.Output, 3, 4, 5, 2)
	tp.Assign("B", typed.Transposition(a,
		ir.Swap{A: 0, B: 1},
		ir.Swap{A: 1, B: 2},
		ir.Swap{A: 2, B: 3},
	))
	vals := make([]float64, 2*3*4*5)
	for i := range vals {
		vals[i] = float64(i)
	}
	in := map[string][]float64{"A": vals}
	dense, err := refeval.Eval(tp, in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// B[j,k,l,i] = A[i,j,k,l]
	if got, want := dense["B"].At(1, 2, 3, 0), 33.0; got != want {
		t.Errorf("got B[1,2,3,0]=%v but want %v", got, want)
	}
	if got, want := dense["B"].At(2, 3, 4, 1), 119.0; got != want {
		t.Errorf("got B[2,3,4,1]=%v but want %v", got, want)
	}
	mem, err := refeval.Interpret(lower(t, tp, false), in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(dense["B"].Flat(), mem["B"].Flat()); diff != "" {
		t.Errorf("compiled program differs from the dense evaluation:\n%s", diff)
	}
}

func TestEvalStack(t *testing.T) {
	stacked := &typed.Program{Name: "stacked"}
	x := stacked.Declare("x", ir.Input, 3)
	y := stacked.Declare("y", ir.Input, 3)
	c := stacked.Declare("c", ir.Local, 2, 3)
	stacked.Declare("w", ir.Output, 2, 3)
	stacked.Assign("c", typed.StackOf(x, y))
	stacked.Assign("w", typed.Add(c, c))

	// The same computation with one assignment per member.
	split := &typed.Program{Name: "split"}
	x = split.Declare("x", ir.Input, 3)
	y = split.Declare("y", ir.Input, 3)
	c0 := split.Declare("c0", ir.Local, 3)
	c1 := split.Declare("c1", ir.Local, 3)
	split.Declare("w", ir.Output, 2, 3)
	split.Assign("c0", x)
	split.Assign("c1", y)
	split.Assign("w", typed.StackOf(typed.Add(c0, c0), typed.Add(c1, c1)))

	in := inputs(stacked)
	want, err := refeval.Eval(split, in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mem, err := refeval.Interpret(lower(t, stacked, false), in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(want["w"].Flat(), mem["w"].Flat()); diff != "" {
		t.Errorf("unexpected result:\n%s", diff)
	}
}

func programs() []*typed.Program {
	var progs []*typed.Program
	add := func(name string, f func(p *typed.Program)) {
		p := &typed.Program{Name: name}
		f(p)
		progs = append(progs, p)
	}
	add("matvec_sum", func(p *typed.Program) {
		a := p.Declare("A", ir.Input, 2, 3)
		u := p.Declare("u", ir.Input, 3)
		p.Declare("v", ir.Output, 2)
		p.Assign("v", typed.Add(
			typed.Contraction(a, []int{1}, u, []int{0}),
			typed.ScalarMul(typed.Number(2), typed.Contraction(a, []int{1}, u, []int{0})),
		))
	})
	add("matmul_transposed", func(p *typed.Program) {
		a := p.Declare("A", ir.Input, 2, 3)
		b := p.Declare("B", ir.Input, 4, 3)
		p.Declare("C", ir.Output, 4, 2)
		p.Assign("C", typed.Transposition(
			typed.Contraction(a, []int{1}, b, []int{1}),
			ir.Swap{A: 0, B: 1},
		))
	})
	add("nested_stack", func(p *typed.Program) {
		a := p.Declare("A", ir.Input, 2, 2)
		u := p.Declare("u", ir.Input, 2)
		p.Declare("w", ir.Output, 2, 2)
		p.Assign("w", typed.Contraction(
			a, []int{1},
			typed.StackOf(typed.Contraction(a, []int{1}, u, []int{0}), u), []int{0},
		))
	})
	add("stack_reads_destination", func(p *typed.Program) {
		x := p.Declare("x", ir.Input, 2)
		y := p.Declare("y", ir.Input, 2)
		c := p.Declare("c", ir.InOut, 2, 2)
		p.Assign("c", typed.StackOf(x, typed.Contraction(c, []int{1}, y, []int{0})))
	})
	add("stack_permuted_destination", func(p *typed.Program) {
		x := p.Declare("x", ir.Input, 2)
		y := p.Declare("y", ir.Input, 2)
		p.Declare("c", ir.Output, 2, 2)
		p.AssignPermuted("c", []ir.Swap{{A: 0, B: 1}}, typed.StackOf(
			typed.Add(x, y),
			typed.Contraction(typed.Outer(x, y), []int{1}, y, []int{0}),
		))
	})
	add("self_contraction", func(p *typed.Program) {
		a := p.Declare("a", ir.InOut, 3, 3)
		p.Assign("a", typed.Contraction(a, []int{1}, a, []int{0}))
	})
	add("self_elementwise", func(p *typed.Program) {
		a := p.Declare("a", ir.InOut, 3, 3)
		b := p.Declare("b", ir.Input, 3, 3)
		p.Assign("a", typed.ScalarDiv(typed.Sub(a, b), typed.Number(2)))
	})
	add("transposed_outer", func(p *typed.Program) {
		a := p.Declare("A", ir.Input, 2, 3)
		u := p.Declare("u", ir.Input, 4)
		p.Declare("Q", ir.Output, 3, 2, 4)
		p.Declare("R", ir.Output, 2, 4, 3)
		p.Assign("Q", typed.Transposition(typed.Outer(a, u), ir.Swap{A: 0, B: 1}))
		p.Assign("R", typed.Transposition(typed.Outer(a, u), ir.Swap{A: 1, B: 2}))
	})
	add("fused_chain", func(p *typed.Program) {
		a := p.Declare("A", ir.Input, 3, 4)
		b := p.Declare("B", ir.Input, 3, 4)
		v := p.Declare("v", ir.Local, 3, 4)
		p.Declare("w", ir.Output, 3, 4)
		p.Assign("v", typed.Mul(a, b))
		p.Assign("w", typed.ScalarDiv(typed.Sub(v, a), typed.Number(4)))
	})
	add("permuted_destination", func(p *typed.Program) {
		a := p.Declare("A", ir.Input, 2, 3)
		p.Declare("B", ir.Output, 3, 2)
		p.AssignPermuted("B", []ir.Swap{{A: 0, B: 1}}, typed.ScalarMul(typed.Number(-1), a))
	})
	return progs
}

func TestPassesPreserveSemantics(t *testing.T) {
	equal := cmpopts.EquateApprox(0, 1e-9)
	for _, tp := range programs() {
		for _, fuse := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/fuse=%v", tp.Name, fuse), func(t *testing.T) {
				in := inputs(tp)
				want, err := refeval.Eval(tp, in)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				prog := lower(t, tp, fuse)
				got, err := refeval.Interpret(prog, in)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				for _, decl := range tp.Decls {
					if !decl.Kind.IsOutput() {
						continue
					}
					if diff := cmp.Diff(want[decl.Name].Flat(), got[decl.Name].Flat(), equal); diff != "" {
						t.Errorf("%s differs from the dense evaluation:\n%s\nprogram:\n%s", decl.Name, diff, prog)
					}
				}
			})
		}
	}
}

func TestIntermediateStages(t *testing.T) {
	// Before the alias copy, programs without self references already compute the right values.
	for _, tp := range programs() {
		selfRef := false
		for _, decl := range tp.Decls {
			if decl.Kind == ir.InOut {
				selfRef = true
			}
		}
		if selfRef {
			continue
		}
		in := inputs(tp)
		want, err := refeval.Eval(tp, in)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		prog, err := builder.Build(tp)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		stages := []struct {
			name string
			run  func(*ir.Program) error
		}{
			{name: "build", run: func(*ir.Program) error { return nil }},
			{name: "lift", run: func(p *ir.Program) error { return lift.Lift(p, lift.ContractionOrStack) }},
			{name: "stackelim", run: stackelim.Eliminate},
		}
		for _, stage := range stages {
			if err := stage.run(prog); err != nil {
				t.Fatalf("%s: %+v", stage.name, err)
			}
			got, err := refeval.Interpret(prog, in)
			if err != nil {
				t.Fatalf("%s: %+v", stage.name, err)
			}
			for _, decl := range tp.Decls {
				if !decl.Kind.IsOutput() {
					continue
				}
				if !cmp.Equal(want[decl.Name].Flat(), got[decl.Name].Flat(), cmpopts.EquateApprox(0, 1e-9)) {
					t.Errorf("%s after %s: got %v but want %v", tp.Name, stage.name, got[decl.Name].Flat(), want[decl.Name].Flat())
				}
			}
		}
	}
}

func TestTensor(t *testing.T) {
	x := refeval.NewTensor([]int{2, 3})
	x.Set(5, 1, 2)
	if got := x.Offset([]int{1, 2}); got != 5 {
		t.Errorf("got offset %d but want 5", got)
	}
	if got := x.At(1, 2); got != 5 {
		t.Errorf("got %v but want 5", got)
	}
	if got := x.Shape().Size(); got != 6 {
		t.Errorf("got size %d but want 6", got)
	}
	s := refeval.FromFlat(nil, []float64{math.Pi})
	if got := s.At(); got != math.Pi {
		t.Errorf("got %v but want %v", got, math.Pi)
	}
}

func TestInterpretErrors(t *testing.T) {
	tp := &typed.Program{Name: "add"}
	a := tp.Declare("A", ir.Input, 2)
	tp.Declare("v", ir.Output, 2)
	tp.Assign("v", a)
	prog := lower(t, tp, false)
	if _, err := refeval.Interpret(prog, map[string][]float64{"A": {1}}); err == nil {
		t.Errorf("expected an error for a wrong number of values")
	}
	if _, err := refeval.Interpret(prog, map[string][]float64{"v": {1, 2}}); err == nil {
		t.Errorf("expected an error for a value given to an output")
	}
}
