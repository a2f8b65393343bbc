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

package typed

import (
	"regexp"
	"slices"

	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/pkg/errors"
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type validator struct {
	prog    *Program
	decls   map[string]*Decl
	written map[string]bool
}

// Validate checks the declarations and the shape rules of every statement of a program.
func Validate(p *Program) error {
	v := &validator{
		prog:    p,
		decls:   make(map[string]*Decl),
		written: make(map[string]bool),
	}
	if !identRegexp.MatchString(p.Name) {
		return errors.Errorf("invalid program name %q", p.Name)
	}
	for _, decl := range p.Decls {
		if err := v.decl(decl); err != nil {
			return err
		}
	}
	for i, stmt := range p.Stmts {
		if err := v.stmt(stmt); err != nil {
			return fmterr.Stmt(i, stmt.Dst, err)
		}
		v.written[stmt.Dst] = true
	}
	return nil
}

func (v *validator) decl(decl *Decl) error {
	if !identRegexp.MatchString(decl.Name) {
		return errors.Errorf("invalid tensor name %q", decl.Name)
	}
	if _, dup := v.decls[decl.Name]; dup {
		return errors.Errorf("tensor %s declared twice", decl.Name)
	}
	if decl.Kind.IsSynthesized() {
		return errors.Errorf("tensor %s cannot be declared as %s", decl.Name, decl.Kind)
	}
	if err := decl.Shape.Valid(); err != nil {
		return errors.Wrapf(err, "invalid shape for tensor %s", decl.Name)
	}
	v.decls[decl.Name] = decl
	return nil
}

func (v *validator) stmt(stmt *Stmt) error {
	decl, ok := v.decls[stmt.Dst]
	if !ok {
		return errors.Errorf("undeclared destination %s", stmt.Dst)
	}
	if decl.Kind == ir.Input {
		return errors.Errorf("cannot assign to input %s", stmt.Dst)
	}
	if stmt.Expr == nil {
		return errors.Errorf("missing expression")
	}
	if err := ir.ValidSwaps(stmt.DstPerm, decl.Shape.Rank()); err != nil {
		return errors.Wrapf(err, "invalid destination permutation")
	}
	got, err := v.expr(stmt.Expr)
	if err != nil {
		return err
	}
	want := decl.Shape.Permute(stmt.DstPerm)
	if !got.Equal(want) {
		return errors.Errorf("cannot assign an expression of shape %s to %s of shape %s", got, stmt.Dst, want)
	}
	return nil
}

func (v *validator) expr(expr Expr) (ir.Shape, error) {
	switch e := expr.(type) {
	case *Ident:
		return v.ident(e)
	case *Const:
		return ir.Shape{}, nil
	case *Binary:
		if !e.Op.IsElementwise() {
			return nil, errors.Errorf("%s is not an elementwise operator", e.Op)
		}
		x, y, err := v.pair(e.X, e.Y)
		if err != nil {
			return nil, err
		}
		if !x.Equal(y) {
			return nil, errors.Errorf("%s: operands have shapes %s and %s", e, x, y)
		}
		return x, nil
	case *Scale:
		if !e.Op.IsScalar() {
			return nil, errors.Errorf("%s is not a scalar operator", e.Op)
		}
		s, x, err := v.pair(e.Scalar, e.Tensor)
		if err != nil {
			return nil, err
		}
		if s.Rank() != 0 {
			return nil, errors.Errorf("%s: scalar operand has shape %s", e, s)
		}
		return x, nil
	case *Product:
		x, y, err := v.pair(e.X, e.Y)
		if err != nil {
			return nil, err
		}
		return x.Concat(y), nil
	case *Contract:
		return v.contract(e)
	case *Stack:
		if len(e.Members) == 0 {
			return nil, errors.Errorf("empty stack")
		}
		var first ir.Shape
		for i, m := range e.Members {
			s, err := v.expr(m)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				first = s
				continue
			}
			if !s.Equal(first) {
				return nil, errors.Errorf("%s: member %d has shape %s but member 0 has shape %s", e, i, s, first)
			}
		}
		return ir.Shape{len(e.Members)}.Concat(first), nil
	case *Transpose:
		x, err := v.expr(e.X)
		if err != nil {
			return nil, err
		}
		if err := ir.ValidSwaps(e.Pairs, x.Rank()); err != nil {
			return nil, errors.Wrapf(err, "%s", e)
		}
		return x.Permute(e.Pairs), nil
	case nil:
		return nil, errors.Errorf("missing expression")
	}
	return nil, errors.Errorf("expression %T not supported", expr)
}

func (v *validator) pair(x, y Expr) (ir.Shape, ir.Shape, error) {
	xs, err := v.expr(x)
	if err != nil {
		return nil, nil, err
	}
	ys, err := v.expr(y)
	if err != nil {
		return nil, nil, err
	}
	return xs, ys, nil
}

func (v *validator) ident(e *Ident) (ir.Shape, error) {
	decl, ok := v.decls[e.Name]
	if !ok {
		return nil, errors.Errorf("undeclared tensor %s", e.Name)
	}
	if !decl.Kind.IsInput() && !v.written[e.Name] {
		return nil, errors.Errorf("%s %s read before being assigned", decl.Kind, e.Name)
	}
	if !e.Dims.Equal(decl.Shape) {
		return nil, errors.Errorf("%s has shape %s but is declared with shape %s", e.Name, e.Dims, decl.Shape)
	}
	return decl.Shape, nil
}

func axesValid(axes []int, rank int) error {
	for i, ax := range axes {
		if ax < 0 || ax >= rank {
			return errors.Errorf("axis %d out of range for rank %d", ax, rank)
		}
		if slices.Contains(axes[:i], ax) {
			return errors.Errorf("axis %d contracted twice", ax)
		}
	}
	return nil
}

func (v *validator) contract(e *Contract) (ir.Shape, error) {
	x, y, err := v.pair(e.X, e.Y)
	if err != nil {
		return nil, err
	}
	if len(e.XAxes) != len(e.YAxes) {
		return nil, errors.Errorf("%s: %d axes contracted with %d axes", e, len(e.XAxes), len(e.YAxes))
	}
	if err := axesValid(e.XAxes, x.Rank()); err != nil {
		return nil, errors.Wrapf(err, "%s: left operand", e)
	}
	if err := axesValid(e.YAxes, y.Rank()); err != nil {
		return nil, errors.Wrapf(err, "%s: right operand", e)
	}
	for i := range e.XAxes {
		if xd, yd := x[e.XAxes[i]], y[e.YAxes[i]]; xd != yd {
			return nil, errors.Errorf("%s: cannot contract axis %d of length %d with axis %d of length %d", e, e.XAxes[i], xd, e.YAxes[i], yd)
		}
	}
	return x.Remove(e.XAxes).Concat(y.Remove(e.YAxes)), nil
}
