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

// Package config loads the configuration of the tensorc command line.
//
// A configuration is read from a TOML file, then overridden by environment
// variables, then by command line flags.
package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorc/api"
	"github.com/gx-org/tensorc/emit/cemit"
	"github.com/gx-org/tensorc/runtime"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
)

// Environment variables overriding the configuration.
const (
	EnvCompiler = "TENSORC_CC"
	EnvCC       = "CC"
	EnvTempDir  = "TENSORC_TMPDIR"
	EnvFlags    = "TENSORC_FLAGS"
	EnvLogLevel = "TENSORC_LOG_LEVEL"
)

// Config of the compiler and of the runtime.
type Config struct {
	// Compiler is the C compiler command.
	Compiler string `toml:"compiler"`
	// Flags are extra compiler flags.
	Flags []string `toml:"flags"`
	// TempDir is the directory of the generated files.
	TempDir string `toml:"temp_dir"`
	// Layout of the tensors in memory: row or column.
	Layout string `toml:"layout"`
	// DType of the elements: float32 or float64.
	DType string `toml:"dtype"`
	// Fuse the outermost loops of assignments.
	Fuse bool `toml:"fuse"`
	// Coalesce loops over whole tensors into a single loop.
	Coalesce bool `toml:"coalesce"`
	// Native enables the instruction sets of the host CPU.
	Native bool `toml:"native"`
	// KeepFiles keeps the generated files.
	KeepFiles bool `toml:"keep_files"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Compiler: runtime.DefaultCompiler,
		Layout:   cemit.RowMajor.String(),
		DType:    "float64",
		LogLevel: "warn",
	}
}

// Decode reads a TOML configuration on top of the default configuration.
// Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	meta, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode configuration")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, errors.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Load reads a configuration file and applies the environment overrides.
// The default configuration is used if path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open configuration")
		}
		defer f.Close()
		if cfg, err = Decode(f); err != nil {
			return nil, errors.WithMessagef(err, "%s", path)
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv overrides the configuration with the environment.
// TENSORC_CC has precedence over CC.
// The environment is read again on every call.
func (c *Config) ApplyEnv() {
	env.Load()
	if cc := env.Str(EnvCompiler, env.Str(EnvCC)); cc != "" {
		c.Compiler = cc
	}
	c.TempDir = env.Str(EnvTempDir, c.TempDir)
	if flags := env.Str(EnvFlags); flags != "" {
		c.Flags = append(c.Flags, strings.Fields(flags)...)
	}
	c.LogLevel = env.Str(EnvLogLevel, c.LogLevel)
}

// Validate checks the values of the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Compiler) == "" {
		return errors.Errorf("no compiler specified")
	}
	if _, err := c.layout(); err != nil {
		return err
	}
	if _, err := c.dtype(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) layout() (cemit.Layout, error) {
	switch c.Layout {
	case "", cemit.RowMajor.String():
		return cemit.RowMajor, nil
	case cemit.ColumnMajor.String():
		return cemit.ColumnMajor, nil
	}
	return 0, errors.Errorf("invalid layout %q: must be %s or %s", c.Layout, cemit.RowMajor, cemit.ColumnMajor)
}

func (c *Config) dtype() (dtype.DataType, error) {
	switch c.DType {
	case "", "float64":
		return dtype.Float64, nil
	case "float32":
		return dtype.Float32, nil
	}
	return dtype.Invalid, errors.Errorf("invalid data type %q: must be float32 or float64", c.DType)
}

// Level returns the logging level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, errors.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// Options returns the options of the compiler.
func (c *Config) Options(logger *slog.Logger) (api.Options, error) {
	layout, err := c.layout()
	if err != nil {
		return api.Options{}, err
	}
	dt, err := c.dtype()
	if err != nil {
		return api.Options{}, err
	}
	return api.Options{
		Emit: cemit.Options{
			Layout:   layout,
			DType:    dt,
			Coalesce: c.Coalesce,
		},
		Fuse: c.Fuse,
		Runtime: runtime.Options{
			Compiler:  c.Compiler,
			Flags:     c.Flags,
			Native:    c.Native,
			TempDir:   c.TempDir,
			KeepFiles: c.KeepFiles,
			Logger:    logger,
		},
		Logger: logger,
	}, nil
}
