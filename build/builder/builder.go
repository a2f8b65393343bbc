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

// Package builder builds the tensorc intermediate representation (IR)
// from a typed program.
//
// Every statement becomes one assignment. Expressions are translated
// post-order into nodes of the program arena. A typed expression used more
// than once maps to a single node, so the resulting trees may share
// subtrees until the lifting pass unshares them.
package builder

import (
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/pkg/errors"
)

// Builder translates typed expressions into IR nodes.
type Builder struct {
	prog *ir.Program
	memo map[typed.Expr]ir.NodeID
}

// Build validates a typed program and returns its IR.
func Build(p *typed.Program) (*ir.Program, error) {
	if err := typed.Validate(p); err != nil {
		return nil, err
	}
	syms := ir.NewSymbols()
	for _, decl := range p.Decls {
		syms.Declare(&ir.Symbol{
			Name:  decl.Name,
			Shape: decl.Shape,
			Kind:  decl.Kind,
		})
	}
	b := &Builder{
		prog: ir.NewProgram(p.Name, syms),
		memo: make(map[typed.Expr]ir.NodeID),
	}
	for i, stmt := range p.Stmts {
		asg, err := b.stmt(stmt)
		if err != nil {
			return nil, fmterr.Stmt(i, stmt.Dst, err)
		}
		b.prog.Assignments = append(b.prog.Assignments, asg)
	}
	return b.prog, nil
}

func (b *Builder) stmt(stmt *typed.Stmt) (*ir.Assignment, error) {
	sym, _ := b.prog.Symbols.Lookup(stmt.Dst)
	expr, err := b.expr(stmt.Expr)
	if err != nil {
		return nil, err
	}
	dst := b.prog.NewAnnotatedIdent(stmt.Dst, sym.Shape.Permute(stmt.DstPerm), nil, stmt.DstPerm)
	return ir.NewAssignment(dst, expr), nil
}

func (b *Builder) expr(expr typed.Expr) (ir.NodeID, error) {
	if id, ok := b.memo[expr]; ok {
		return id, nil
	}
	id, err := b.build(expr)
	if err != nil {
		return 0, err
	}
	b.memo[expr] = id
	return id, nil
}

func (b *Builder) pair(x, y typed.Expr) (ir.NodeID, ir.NodeID, error) {
	xID, err := b.expr(x)
	if err != nil {
		return 0, 0, err
	}
	yID, err := b.expr(y)
	if err != nil {
		return 0, 0, err
	}
	return xID, yID, nil
}

func (b *Builder) build(expr typed.Expr) (ir.NodeID, error) {
	switch e := expr.(type) {
	case *typed.Ident:
		return b.prog.NewIdent(e.Name, e.Dims), nil
	case *typed.Const:
		return b.prog.NewConstant(e.Value), nil
	case *typed.Binary:
		x, y, err := b.pair(e.X, e.Y)
		if err != nil {
			return 0, err
		}
		return b.prog.NewBinary(e.Op, x, y), nil
	case *typed.Scale:
		s, x, err := b.pair(e.Scalar, e.Tensor)
		if err != nil {
			return 0, err
		}
		if e.Op == ir.ScalarDiv {
			return b.prog.NewScalarDiv(x, s), nil
		}
		return b.prog.NewScalarMul(s, x), nil
	case *typed.Product:
		x, y, err := b.pair(e.X, e.Y)
		if err != nil {
			return 0, err
		}
		return b.prog.NewProduct(x, y), nil
	case *typed.Contract:
		x, y, err := b.pair(e.X, e.Y)
		if err != nil {
			return 0, err
		}
		return b.prog.NewContraction(x, e.XAxes, y, e.YAxes), nil
	case *typed.Stack:
		members := make([]ir.NodeID, len(e.Members))
		for i, m := range e.Members {
			id, err := b.expr(m)
			if err != nil {
				return 0, err
			}
			members[i] = id
		}
		return b.prog.NewStack(members...), nil
	case *typed.Transpose:
		x, err := b.expr(e.X)
		if err != nil {
			return 0, err
		}
		return b.prog.NewTransposition(x, e.Pairs), nil
	}
	return 0, fmterr.Internal(errors.Errorf("expression %T not supported", expr))
}
