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

// Package tmpl provides helpers to generate source code from templates.
package tmpl

import (
	"io"
	"text/template"

	"github.com/pkg/errors"
)

// Exec parses a template, runs it, and writes the result into a writer.
func Exec(w io.Writer, name, src string, funcs template.FuncMap, data any) error {
	tpl, err := template.New(name).Funcs(funcs).Parse(src)
	if err != nil {
		return errors.Errorf("cannot parse template %s: %v", name, err)
	}
	if err := tpl.Execute(w, data); err != nil {
		return errors.Errorf("cannot generate %s: %v", name, err)
	}
	return nil
}
