// Package config loads and validates the settings of the memexchange CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Engine selects how guests are run.
type Engine string

const (
	// EngineWazero runs a WebAssembly guest under wazero.
	EngineWazero Engine = "wazero"

	// EngineNative runs the Go guest in-process over its own linear memory.
	EngineNative Engine = "native"
)

// Defaults.
const (
	DefaultMessage          = "Hello From Host"
	DefaultAppendSuffix     = ", I am doing good"
	DefaultCallTimeout      = 5 * time.Second
	DefaultMemoryLimitPages = 512
	DefaultMaxRequestSize   = 1 << 20
)

// validate is a package-level singleton; building a validator is expensive.
var validate = validator.New()

// Config is the CLI configuration. Zero fields in a file keep their defaults.
type Config struct {
	Engine           Engine        `yaml:"engine" json:"engine" validate:"oneof=wazero native" jsonschema:"enum=wazero,enum=native,default=wazero"`
	GuestPath        string        `yaml:"guest_path" json:"guest_path,omitempty" validate:"omitempty,endswith=.wasm|endswith=.wat" jsonschema:"description=Guest module (.wasm or .wat); empty runs the embedded reference guest"`
	Message          string        `yaml:"message" json:"message" validate:"max=1048576" jsonschema:"default=Hello From Host"`
	AppendSuffix     string        `yaml:"append_suffix" json:"append_suffix" jsonschema:"description=Text host_append adds to the guest's fragment"`
	LogLevel         string        `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Parallel         int           `yaml:"parallel" json:"parallel" validate:"min=1,max=64" jsonschema:"minimum=1,maximum=64,default=1"`
	CallTimeout      time.Duration `yaml:"call_timeout" json:"call_timeout" validate:"min=1ms" jsonschema:"type=string,description=Timeout of a single boundary call such as 5s or 250ms"`
	MemoryLimitPages uint32        `yaml:"memory_limit_pages" json:"memory_limit_pages" validate:"min=1,max=65536" jsonschema:"minimum=1,maximum=65536"`
	MaxRequestSize   uint32        `yaml:"max_request_size" json:"max_request_size" validate:"min=1" jsonschema:"minimum=1"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Engine:           EngineWazero,
		Message:          DefaultMessage,
		AppendSuffix:     DefaultAppendSuffix,
		LogLevel:         "info",
		Parallel:         1,
		CallTimeout:      DefaultCallTimeout,
		MemoryLimitPages: DefaultMemoryLimitPages,
		MaxRequestSize:   DefaultMaxRequestSize,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
