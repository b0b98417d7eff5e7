// Package config loads harness settings from an optional YAML file.
//
// Every field has a default. A file only needs the fields it changes:
//
//	bind_address: 127.0.0.2
//	startup_timeout: 5s
//	breakpoints: [booth_udp_send, process_recv]
//
// Decoding is strict (unknown keys are errors) and the result is checked
// against the CUE definition #Config embedded from schema.cue.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gdbprobe/internal/session"
)

//go:embed schema.cue
var schemaSource string

// Step variants.
const (
	VariantTicket  = "ticket"
	VariantMessage = "message"
	VariantAuto    = "auto"
)

// Config holds every tunable of a run.
type Config struct {
	LogDir    string `yaml:"log_dir" json:"log_dir"`
	LogPrefix string `yaml:"log_prefix" json:"log_prefix"`

	// DaemonConfig defaults to <scenario-dir>/booth.conf.
	DaemonConfig string `yaml:"daemon_config" json:"daemon_config"`
	BindAddress  string `yaml:"bind_address" json:"bind_address"`
	// LockFile defaults to <log-dir>/<prefix>.lock.
	LockFile string `yaml:"lock_file" json:"lock_file"`

	Debugger    string   `yaml:"debugger" json:"debugger"`
	Prompt      string   `yaml:"prompt" json:"prompt"`
	Breakpoints []string `yaml:"breakpoints" json:"breakpoints"`
	SelfTest    string   `yaml:"self_test" json:"self_test"`

	StartupTimeout time.Duration `yaml:"startup_timeout" json:"startup_timeout"`
	AttachTimeout  time.Duration `yaml:"attach_timeout" json:"attach_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`

	Variant string `yaml:"variant" json:"variant"`
	// ResultsDB defaults to <log-dir>/<prefix>.db.
	ResultsDB    string `yaml:"results_db" json:"results_db"`
	DefaultsFile string `yaml:"defaults_file" json:"defaults_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogDir:         os.TempDir(),
		LogPrefix:      "gdbprobe",
		BindAddress:    "127.0.0.1",
		Debugger:       "gdb",
		Prompt:         session.DefaultPrompt(),
		Breakpoints:    []string{"booth_udp_send", "booth_udp_broadcast", "process_recv"},
		SelfTest:       "local->site_id",
		StartupTimeout: 2 * time.Second,
		AttachTimeout:  30 * time.Second,
		CommandTimeout: 30 * time.Second,
		Variant:        VariantAuto,
		DefaultsFile:   "_defaults.txt",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Decode(bytes.NewReader(data), cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg and validates the result.
func Decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg.Validate()
}

// Validate checks c against the #Config schema.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("building config schema: %w", err)
	}
	value := schema.Unify(ctx.CompileBytes(data))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Resolve fills the paths that default relative to the scenario and log
// directories. Explicit values are left alone.
func (c *Config) Resolve(scenarioDir string) {
	if c.DaemonConfig == "" {
		c.DaemonConfig = filepath.Join(scenarioDir, "booth.conf")
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(c.LogDir, c.LogPrefix+".lock")
	}
	if c.ResultsDB == "" {
		c.ResultsDB = filepath.Join(c.LogDir, c.LogPrefix+".db")
	}
}
