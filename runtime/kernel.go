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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/mod/sumdb/dirhash"
)

// DefaultCompiler is the compiler used when none has been configured.
const DefaultCompiler = "cc"

// BaseFlags are always passed to the compiler.
var BaseFlags = []string{"-O2", "-shared", "-fPIC", "-std=c99"}

// Options to build a kernel.
type Options struct {
	// Compiler command. It may include arguments, separated by spaces.
	Compiler string
	// Flags are extra flags passed to the compiler.
	Flags []string
	// Native adds flags specific to the host CPU.
	Native bool
	// TempDir is the directory of the generated files.
	// The OS temporary directory is used if empty.
	TempDir string
	// KeepFiles keeps the generated files when the kernel is cleaned.
	KeepFiles bool
	// Logger receives debug information about builds. Nothing is logged if nil.
	Logger *slog.Logger
}

func (opts *Options) logger() *slog.Logger {
	if opts.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return opts.Logger
}

// Command returns the compiler command line building a library from a source file.
func (opts *Options) Command(src, lib string) []string {
	compiler := opts.Compiler
	if compiler == "" {
		compiler = DefaultCompiler
	}
	cmd := strings.Fields(compiler)
	cmd = append(cmd, BaseFlags...)
	if opts.Native {
		cmd = append(cmd, NativeFlags()...)
	}
	cmd = append(cmd, opts.Flags...)
	return append(cmd, "-o", lib, src)
}

// Kernel is the shared library built from a CodeGen.
type Kernel struct {
	cg        *CodeGen
	opts      Options
	log       *slog.Logger
	positions map[string]int

	// SourcePath is the path of the C source file.
	SourcePath string
	// LibraryPath is the path of the shared library.
	LibraryPath string
	// Digest of the source.
	Digest string

	lib uintptr
	fn  uintptr
}

var fileCounter atomic.Uint64

func uniqueName() string {
	return fmt.Sprintf("tensorc_%d_%d_%d", os.Getpid(), fileCounter.Add(1), time.Now().UnixNano())
}

// SourceDigest returns the content digest of a kernel source.
func SourceDigest(source string) (string, error) {
	return dirhash.Hash1([]string{"kernel.c"}, func(string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(source)), nil
	})
}

func newKernel(cg *CodeGen, opts Options) *Kernel {
	k := &Kernel{
		cg:        cg,
		opts:      opts,
		log:       opts.logger(),
		positions: make(map[string]int, len(cg.Formals)),
	}
	for i, f := range cg.Formals {
		k.positions[f.Name] = i
	}
	return k
}

// Build writes the source of a kernel in a file and compiles it into a shared library.
// The compiler is run synchronously.
func Build(cg *CodeGen, opts Options) (*Kernel, error) {
	k := newKernel(cg, opts)
	dir := opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	digest, err := SourceDigest(cg.Source)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot compute the digest of %s", cg.FuncName)
	}
	k.Digest = digest
	base := filepath.Join(dir, uniqueName())
	k.SourcePath = base + ".c"
	k.LibraryPath = base + ".so"
	if err := os.WriteFile(k.SourcePath, []byte(cg.Source), 0o644); err != nil {
		return nil, errors.Wrapf(err, "cannot write kernel source")
	}
	cmd := opts.Command(k.SourcePath, k.LibraryPath)
	k.log.Debug("compiling kernel", "func", cg.FuncName, "command", strings.Join(cmd, " "))
	start := time.Now()
	out, err := exec.Command(cmd[0], cmd[1:]...).CombinedOutput()
	if err != nil {
		k.log.Error("kernel compilation failed", "func", cg.FuncName, "error", err)
		buildErr := &BuildError{
			Command: cmd,
			Output:  string(out),
			Source:  cg.Source,
			Err:     err,
		}
		return nil, multierr.Append(buildErr, k.Clean())
	}
	k.log.Debug("kernel compiled", "func", cg.FuncName, "library", k.LibraryPath, "duration", time.Since(start))
	return k, nil
}

// CodeGen returns the code from which the kernel has been built.
func (k *Kernel) CodeGen() *CodeGen {
	return k.cg
}

// Position returns the position of a formal argument given its name.
func (k *Kernel) Position(name string) (int, error) {
	pos, ok := k.positions[name]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownArgument, "%s is not an argument of %s", name, k.cg.FuncName)
	}
	return pos, nil
}

// Loaded returns true if the library has been loaded.
func (k *Kernel) Loaded() bool {
	return k.fn != 0
}

// Load opens the library and resolves the entry point of the kernel.
func (k *Kernel) Load() error {
	if k.Loaded() {
		return nil
	}
	lib, err := purego.Dlopen(k.LibraryPath, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return &LoadError{Path: k.LibraryPath, Err: err}
	}
	fn, err := purego.Dlsym(lib, k.cg.Entry)
	if err != nil {
		return multierr.Append(
			&SymbolError{Path: k.LibraryPath, Symbol: k.cg.Entry, Err: err},
			purego.Dlclose(lib),
		)
	}
	k.lib, k.fn = lib, fn
	k.log.Debug("kernel loaded", "func", k.cg.FuncName, "library", k.LibraryPath)
	return nil
}

// Unload closes the library. The kernel cannot be executed after being unloaded.
func (k *Kernel) Unload() error {
	if !k.Loaded() {
		return nil
	}
	err := purego.Dlclose(k.lib)
	k.lib, k.fn = 0, 0
	k.log.Debug("kernel unloaded", "func", k.cg.FuncName)
	return errors.Wrapf(err, "cannot unload %s", k.LibraryPath)
}

// Clean unloads the kernel and removes its generated files.
// All removal errors are returned.
func (k *Kernel) Clean() error {
	err := k.Unload()
	if k.opts.KeepFiles {
		return err
	}
	for _, path := range []string{k.SourcePath, k.LibraryPath, ManifestPath(k.LibraryPath)} {
		if path == "" {
			continue
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, errors.WithStack(rmErr))
		}
	}
	k.SourcePath, k.LibraryPath = "", ""
	return err
}

// NewExecution returns a new execution of the kernel.
func (k *Kernel) NewExecution() *Execution {
	return &Execution{
		kernel: k,
		slots:  make([]unsafe.Pointer, len(k.cg.Formals)),
	}
}
