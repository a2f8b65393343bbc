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

// Package typed defines typed tensor programs, the input of the compiler.
//
// A typed program is produced by a type checker: every name is declared with
// a shape and a kind, and every statement assigns an expression tree to a
// declared name. Constructors compute the shape of each expression.
package typed

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gx-org/tensorc/build/ir"
)

type (
	// Decl declares a tensor of a program.
	Decl struct {
		Name  string
		Shape ir.Shape
		Kind  ir.SymbolKind
	}

	// Stmt assigns the result of an expression to a declared tensor.
	Stmt struct {
		Dst string
		// DstPerm writes into a transposed view of the destination.
		// The shape of the expression is the declared shape permuted by DstPerm.
		DstPerm []ir.Swap
		Expr    Expr
	}

	// Program is a list of declarations and an ordered list of statements.
	Program struct {
		Name  string
		Decls []*Decl
		Stmts []*Stmt
	}

	// Expr is a typed expression.
	Expr interface {
		// Shape of the result of the expression.
		Shape() ir.Shape
		String() string
		node()
	}

	// Ident reads a declared tensor.
	Ident struct {
		Name string
		Dims ir.Shape
	}

	// Const is a scalar literal.
	Const struct {
		Value float64
	}

	// Binary is an elementwise operation between two tensors of the same shape.
	Binary struct {
		Op   ir.Kind
		X, Y Expr
	}

	// Scale multiplies or divides a tensor by a scalar.
	Scale struct {
		Op     ir.Kind
		Scalar Expr
		Tensor Expr
	}

	// Product is the outer product of two tensors.
	Product struct {
		X, Y Expr
	}

	// Contract sums over pairs of axes of two tensors.
	Contract struct {
		X     Expr
		XAxes []int
		Y     Expr
		YAxes []int
	}

	// Stack packs tensors of the same shape along a new leading axis.
	Stack struct {
		Members []Expr
	}

	// Transpose swaps pairs of axes.
	Transpose struct {
		X     Expr
		Pairs []ir.Swap
	}
)

var (
	_ Expr = (*Ident)(nil)
	_ Expr = (*Const)(nil)
	_ Expr = (*Binary)(nil)
	_ Expr = (*Scale)(nil)
	_ Expr = (*Product)(nil)
	_ Expr = (*Contract)(nil)
	_ Expr = (*Stack)(nil)
	_ Expr = (*Transpose)(nil)
)

// Decl returns the declaration of a name.
func (p *Program) Decl(name string) (*Decl, bool) {
	for _, decl := range p.Decls {
		if decl.Name == name {
			return decl, true
		}
	}
	return nil, false
}

// Declare a tensor and returns an expression reading it.
func (p *Program) Declare(name string, kind ir.SymbolKind, shape ...int) *Ident {
	p.Decls = append(p.Decls, &Decl{Name: name, Shape: ir.Shape(shape), Kind: kind})
	return &Ident{Name: name, Dims: ir.Shape(shape)}
}

// Ident returns an expression reading a declared tensor.
// It returns nil if the name has not been declared.
func (p *Program) Ident(name string) *Ident {
	decl, ok := p.Decl(name)
	if !ok {
		return nil
	}
	return &Ident{Name: name, Dims: slices.Clone(decl.Shape)}
}

// Assign appends a statement to the program.
func (p *Program) Assign(dst string, expr Expr) {
	p.Stmts = append(p.Stmts, &Stmt{Dst: dst, Expr: expr})
}

// AssignPermuted appends a statement writing into a transposed view of the destination.
func (p *Program) AssignPermuted(dst string, perm []ir.Swap, expr Expr) {
	p.Stmts = append(p.Stmts, &Stmt{Dst: dst, DstPerm: perm, Expr: expr})
}

// Add returns x + y.
func Add(x, y Expr) *Binary { return &Binary{Op: ir.Add, X: x, Y: y} }

// Sub returns x - y.
func Sub(x, y Expr) *Binary { return &Binary{Op: ir.Sub, X: x, Y: y} }

// Mul returns x * y, elementwise.
func Mul(x, y Expr) *Binary { return &Binary{Op: ir.Mul, X: x, Y: y} }

// Div returns x / y, elementwise.
func Div(x, y Expr) *Binary { return &Binary{Op: ir.Div, X: x, Y: y} }

// ScalarMul returns s * x where s is a scalar.
func ScalarMul(s, x Expr) *Scale { return &Scale{Op: ir.ScalarMul, Scalar: s, Tensor: x} }

// ScalarDiv returns x / s where s is a scalar.
func ScalarDiv(x, s Expr) *Scale { return &Scale{Op: ir.ScalarDiv, Scalar: s, Tensor: x} }

// Outer returns the outer product of x and y.
func Outer(x, y Expr) *Product { return &Product{X: x, Y: y} }

// Contraction returns the contraction of x and y over pairs of axes.
func Contraction(x Expr, xAxes []int, y Expr, yAxes []int) *Contract {
	return &Contract{X: x, XAxes: xAxes, Y: y, YAxes: yAxes}
}

// StackOf returns the stack of tensors.
func StackOf(members ...Expr) *Stack { return &Stack{Members: members} }

// Transposition returns x with pairs of axes swapped.
func Transposition(x Expr, pairs ...ir.Swap) *Transpose { return &Transpose{X: x, Pairs: pairs} }

// Number returns a scalar literal.
func Number(v float64) *Const { return &Const{Value: v} }

func (*Ident) node()     {}
func (*Const) node()     {}
func (*Binary) node()    {}
func (*Scale) node()     {}
func (*Product) node()   {}
func (*Contract) node()  {}
func (*Stack) node()     {}
func (*Transpose) node() {}

// Shape of the tensor.
func (e *Ident) Shape() ir.Shape { return e.Dims }

// Shape of a scalar.
func (e *Const) Shape() ir.Shape { return ir.Shape{} }

// Shape of the operands.
func (e *Binary) Shape() ir.Shape { return e.X.Shape() }

// Shape of the tensor operand.
func (e *Scale) Shape() ir.Shape { return e.Tensor.Shape() }

// Shape is the concatenation of the shapes of the operands.
func (e *Product) Shape() ir.Shape { return e.X.Shape().Concat(e.Y.Shape()) }

// Shape is the concatenation of the free axes of the operands.
func (e *Contract) Shape() ir.Shape {
	return e.X.Shape().Remove(e.XAxes).Concat(e.Y.Shape().Remove(e.YAxes))
}

// Shape is the number of members followed by the shape of a member.
func (e *Stack) Shape() ir.Shape {
	return ir.Shape{len(e.Members)}.Concat(e.Members[0].Shape())
}

// Shape of the operand with the pairs of axes swapped.
func (e *Transpose) Shape() ir.Shape { return e.X.Shape().Permute(e.Pairs) }

func (e *Ident) String() string { return e.Name }

func (e *Const) String() string { return strconv.FormatFloat(e.Value, 'g', -1, 64) }

func (e *Binary) String() string { return fmt.Sprintf("(%s %s %s)", e.X, e.Op.Operator(), e.Y) }

func (e *Scale) String() string {
	if e.Op == ir.ScalarDiv {
		return fmt.Sprintf("sdiv(%s, %s)", e.Tensor, e.Scalar)
	}
	return fmt.Sprintf("smul(%s, %s)", e.Scalar, e.Tensor)
}

func (e *Product) String() string { return fmt.Sprintf("outer(%s, %s)", e.X, e.Y) }

func (e *Contract) String() string {
	return fmt.Sprintf("contract(%s, %v, %s, %v)", e.X, e.XAxes, e.Y, e.YAxes)
}

func (e *Stack) String() string {
	ss := make([]string, len(e.Members))
	for i, m := range e.Members {
		ss[i] = m.String()
	}
	return "stack(" + strings.Join(ss, ", ") + ")"
}

func (e *Transpose) String() string {
	return fmt.Sprintf("transpose(%s, %s)", e.X, ir.SwapsString(e.Pairs))
}

// String representation of the statement.
func (s *Stmt) String() string {
	dst := s.Dst
	if len(s.DstPerm) > 0 {
		dst += "^" + ir.SwapsString(s.DstPerm)
	}
	return dst + " = " + s.Expr.String()
}

// String representation of the program.
func (p *Program) String() string {
	var b strings.Builder
	for _, decl := range p.Decls {
		fmt.Fprintf(&b, "%s %s %s\n", decl.Kind, decl.Name, decl.Shape)
	}
	for _, stmt := range p.Stmts {
		b.WriteString(stmt.String())
		b.WriteString("\n")
	}
	return b.String()
}
