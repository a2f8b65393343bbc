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

package runtime

import (
	"os"

	"github.com/gx-org/backend/dtype"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// manifest is the metadata of a kernel stored next to its library.
type manifest struct {
	FuncName string         `msgpack:"func"`
	Entry    string         `msgpack:"entry"`
	Formals  []Formal       `msgpack:"formals"`
	DType    dtype.DataType `msgpack:"dtype"`
	Source   string         `msgpack:"source"`
	Library  string         `msgpack:"library"`
	Digest   string         `msgpack:"digest"`
}

// ManifestPath returns the path of the manifest of a library.
func ManifestPath(lib string) string {
	if lib == "" {
		return ""
	}
	return lib + ".manifest"
}

// SaveManifest writes the metadata of a kernel next to its library.
// The kernel can then be reopened with OpenKernel, from another process.
func (k *Kernel) SaveManifest() (string, error) {
	m := manifest{
		FuncName: k.cg.FuncName,
		Entry:    k.cg.Entry,
		Formals:  k.cg.Formals,
		DType:    k.cg.DType,
		Source:   k.SourcePath,
		Library:  k.LibraryPath,
		Digest:   k.Digest,
	}
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return "", errors.Wrapf(err, "cannot encode the manifest of %s", k.cg.FuncName)
	}
	path := ManifestPath(k.LibraryPath)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "cannot write manifest")
	}
	return path, nil
}

// OpenKernel reads a manifest written by SaveManifest and returns its kernel.
// The digest of the source file is checked against the manifest.
// The kernel still needs to be loaded.
func OpenKernel(path string, opts Options) (*Kernel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read manifest")
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "cannot decode manifest %s", path)
	}
	src, err := os.ReadFile(m.Source)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read the source of %s", m.FuncName)
	}
	digest, err := SourceDigest(string(src))
	if err != nil {
		return nil, err
	}
	if digest != m.Digest {
		return nil, errors.Errorf("source %s has changed since %s was built: got digest %s but manifest has %s", m.Source, m.Library, digest, m.Digest)
	}
	cg := &CodeGen{
		Source:   string(src),
		FuncName: m.FuncName,
		Entry:    m.Entry,
		Formals:  m.Formals,
		DType:    m.DType,
	}
	k := newKernel(cg, opts)
	k.SourcePath = m.Source
	k.LibraryPath = m.Library
	k.Digest = m.Digest
	return k, nil
}
