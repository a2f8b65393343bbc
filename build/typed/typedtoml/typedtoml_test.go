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

package typedtoml_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gx-org/tensorc/build/typed/typedtoml"
)

const matvec = `
name = "matvec"

[[decl]]
name = "A"
shape = [2, 2]
kind = "input"

[[decl]]
name = "u"
shape = [2]
kind = "input"

[[decl]]
name = "v"
shape = [2]
kind = "output"

[[decl]]
name = "B"
shape = [2, 2]
kind = "inout"

[[decl]]
name = "P"
shape = [2, 2, 2]
kind = "local"

[[stmt]]
dst = "v"
expr = { op = "contract", x = { ident = "A" }, x_axes = [1], y = { ident = "u" }, y_axes = [0] }

[[stmt]]
dst = "P"
expr = { op = "outer", x = { ident = "A" }, y = { ident = "u" } }

[[stmt]]
dst = "B"
perm = [[0, 1]]
expr = { op = "smul", scalar = { const = 2.5 }, x = { op = "transpose", x = { ident = "B" }, pairs = [[0, 1]] } }

[inputs]
A = [1, 0, 0, 1]
u = [1, 2]
`

func TestDecode(t *testing.T) {
	file, err := typedtoml.Decode(strings.NewReader(matvec))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := `input A [2,2]
input u [2]
output v [2]
inout B [2,2]
local P [2,2,2]
v = contract(A, [1], u, [0])
P = outer(A, u)
B^[(0,1)] = smul(2.5, transpose(B, [(0,1)]))
`
	if got := file.Program.String(); got != want {
		t.Errorf("got:\n%s\nbut want:\n%s", got, want)
	}
	wantInputs := map[string][]float64{
		"A": {1, 0, 0, 1},
		"u": {1, 2},
	}
	if diff := cmp.Diff(wantInputs, file.Inputs); diff != "" {
		t.Errorf("unexpected inputs:\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		src string
		err string
	}{
		{
			src: `
[[decl]]
name = "A"
shape = [2]
kind = "constant"
`,
			err: `unknown kind "constant"`,
		},
		{
			src: `
[[decl]]
name = "A"
shape = [2]
kind = "input"
color = "blue"
`,
			err: "unknown keys in program: decl.color",
		},
		{
			src: `
[[decl]]
name = "A"
shape = [2]
kind = "output"

[[stmt]]
dst = "A"
expr = { op = "pow", x = { ident = "A" }, y = { ident = "A" } }
`,
			err: `unknown operator "pow"`,
		},
		{
			src: `
[[decl]]
name = "A"
shape = [2]
kind = "input"

[inputs]
A = [1, 2, 3]
`,
			err: "3 values given for input A of shape [2]: want 2",
		},
		{
			src: `
[[decl]]
name = "A"
shape = [2]
kind = "output"

[[stmt]]
dst = "A"
expr = { ident = "B" }
`,
			err: "undeclared tensor B",
		},
	}
	for i, test := range tests {
		_, err := typedtoml.Decode(strings.NewReader(test.src))
		if err == nil {
			t.Errorf("test %d: expected error %q but got nil", i, test.err)
			continue
		}
		if !strings.Contains(err.Error(), test.err) {
			t.Errorf("test %d: got error %q but want an error containing %q", i, err.Error(), test.err)
		}
	}
}
