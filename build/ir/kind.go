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

// Kind of a node in the expression tree.
// The set of kinds is closed: every pass switches over all of them.
type Kind uint8

// Kinds of node.
const (
	Invalid Kind = iota

	// Identifier reads a named tensor.
	Identifier
	// Constant is a scalar literal.
	Constant

	// Add, Sub, Mul, and Div are elementwise operators between tensors of the same shape.
	Add
	Sub
	Mul
	Div

	// ScalarMul multiplies a tensor (second operand) by a scalar (first operand).
	ScalarMul
	// ScalarDiv divides a tensor (first operand) by a scalar (second operand).
	ScalarDiv

	// Product is the outer product of two tensors.
	Product
	// Contraction sums over pairs of axes of two tensors.
	Contraction
	// Stack packs tensors of the same shape along a new leading axis.
	Stack
	// Transposition swaps pairs of axes of a tensor.
	Transposition
)

var kindNames = map[Kind]string{
	Invalid:       "invalid",
	Identifier:    "identifier",
	Constant:      "constant",
	Add:           "add",
	Sub:           "sub",
	Mul:           "mul",
	Div:           "div",
	ScalarMul:     "scalar mul",
	ScalarDiv:     "scalar div",
	Product:       "product",
	Contraction:   "contraction",
	Stack:         "stack",
	Transposition: "transposition",
}

// String returns a string representation of a kind.
func (k Kind) String() string {
	s, ok := kindNames[k]
	if !ok {
		return "unknown kind"
	}
	return s
}

// IsElementwise returns true for operators combining two tensors element by element.
func (k Kind) IsElementwise() bool {
	switch k {
	case Add, Sub, Mul, Div:
		return true
	}
	return false
}

// IsScalar returns true for operators between a tensor and a scalar.
func (k Kind) IsScalar() bool {
	return k == ScalarMul || k == ScalarDiv
}

// IsLeaf returns true for kinds without operands.
func (k Kind) IsLeaf() bool {
	return k == Identifier || k == Constant
}

// Permutes returns true for kinds whose operands are not indexed like their result.
func (k Kind) Permutes() bool {
	switch k {
	case Product, Contraction, Stack, Transposition:
		return true
	}
	return false
}

// Operator returns the C operator of an elementwise or scalar kind.
func (k Kind) Operator() string {
	switch k {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul, ScalarMul, Product:
		return "*"
	case Div, ScalarDiv:
		return "/"
	}
	return "?"
}
