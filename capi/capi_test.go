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

package capi_test

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/gx-org/tensorc/api"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/gx-org/tensorc/capi"
	"github.com/gx-org/tensorc/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addProgram() *typed.Program {
	tp := &typed.Program{Name: "add"}
	a := tp.Declare("A", ir.Input, 3, 3)
	tp.Declare("v", ir.Output, 3, 3)
	tp.Assign("v", typed.Add(a, a))
	return tp
}

func TestHandles(t *testing.T) {
	live := capi.Live()
	cg, err := capi.Emit(addProgram(), api.Options{})
	require.NoError(t, err)
	src, err := capi.Source(cg)
	require.NoError(t, err)
	assert.True(t, strings.Contains(src, "void tensorc_add_entry(void **args)"), "unexpected source:\n%s", src)
	assert.Equal(t, live+1, capi.Live())
	assert.Contains(t, capi.Dump(), "*runtime.CodeGen handle:")

	// A code handle is not a kernel handle.
	assert.Error(t, capi.Load(capi.Kernel(cg)))
	_, err = capi.NewExecution(capi.Kernel(cg))
	assert.Error(t, err)
	assert.Error(t, capi.Execute(capi.Execution(cg)))

	require.NoError(t, capi.ReleaseCodeGen(cg))
	assert.Equal(t, live, capi.Live())
	_, err = capi.Source(cg)
	assert.Error(t, err)
	assert.Error(t, capi.ReleaseCodeGen(cg))
	assert.Error(t, capi.Execute(0))
}

func TestExecute(t *testing.T) {
	if _, err := exec.LookPath(runtime.DefaultCompiler); err != nil {
		t.Skipf("no C compiler found: %v", err)
	}
	cg, err := capi.Emit(addProgram(), api.Options{})
	require.NoError(t, err)
	defer capi.ReleaseCodeGen(cg)
	k, err := capi.Build(cg, runtime.Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, capi.Load(k))
	e, err := capi.NewExecution(k)
	require.NoError(t, err)

	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	v := make([]float64, 9)
	require.NoError(t, capi.Bind(e, "A", a))
	err = capi.Execute(e)
	assert.ErrorIs(t, err, runtime.ErrUnboundArguments)
	require.NoError(t, capi.Bind(e, "v", v))
	require.NoError(t, capi.Execute(e))
	assert.Equal(t, []float64{2, 4, 6, 8, 10, 12, 14, 16, 18}, v)
	assert.Error(t, capi.Bind(e, "w", v))

	require.NoError(t, capi.ReleaseExecution(e))
	require.NoError(t, capi.ReleaseKernel(k))
	assert.Error(t, capi.Load(k))
}
