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

// Package tcflag provides flag types for tensorc tools.
package tcflag

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

type stringList struct {
	list *[]string
}

var _ pflag.Value = (*stringList)(nil)

func (sl *stringList) String() string {
	return strings.Join(*sl.list, ",")
}

func (sl *stringList) Set(values string) error {
	for _, value := range strings.Split(values, ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		*sl.list = append(*sl.list, value)
	}
	return nil
}

func (sl *stringList) Type() string {
	return "strings"
}

// StringList defines a flag to pass a comma separated list of strings.
// The flag can be repeated: values accumulate.
func StringList(fs *pflag.FlagSet, name, doc string) *[]string {
	var list []string
	fs.Var(&stringList{&list}, name, doc)
	return &list
}

type choice struct {
	values []string
	value  *string
}

var _ pflag.Value = (*choice)(nil)

// Choice defines a flag which value must be one of a set of values.
func Choice(fs *pflag.FlagSet, name, doc string, values ...string) *string {
	var value string
	fs.Var(&choice{values: values, value: &value}, name, doc+" ("+strings.Join(values, "|")+")")
	return &value
}

func (c *choice) String() string {
	if c.value == nil {
		return ""
	}
	return *c.value
}

func (c *choice) Set(value string) error {
	if slices.Contains(c.values, value) {
		*c.value = value
		return nil
	}
	return errors.Errorf("invalid value %q: must be one of %s", value, strings.Join(c.values, ", "))
}

func (c *choice) Type() string {
	return "string"
}
