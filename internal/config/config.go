// Package config resolves the run configuration from defaults, an optional
// YAML file and command-line flags, in increasing order of precedence.
//
// A config file is checked against an embedded CUE schema before it is
// decoded, so typos in keys and out-of-range values are reported with the
// offending field instead of being silently ignored.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/jerrypnz/kass/internal/engine"
	"github.com/jerrypnz/kass/internal/logging"
)

// EnvConfigPath names the environment variable holding a config file path.
const EnvConfigPath = "KASS_CONFIG"

//go:embed schema.cue
var schemaSource string

// Config is everything a run needs besides the template and param-specs.
type Config struct {
	Host           string        `yaml:"host"`
	Keyspace       string        `yaml:"keyspace"`
	Parallelism    int           `yaml:"parallelism"`
	Color          string        `yaml:"color"`
	Pretty         bool          `yaml:"pretty"`
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Consistency    string        `yaml:"consistency"`
	OnError        string        `yaml:"on_error"`
	FailOnError    bool          `yaml:"fail_on_error"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:           "localhost:9042",
		Parallelism:    engine.DefaultParallelism,
		Color:          string(logging.ColorAuto),
		Timeout:        10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Consistency:    "ONE",
		OnError:        string(engine.FailContinue),
	}
}

// Validate checks the values a flag overlay may have introduced.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be a positive integer, got %d", c.Parallelism)
	}
	if _, err := logging.ParseColorMode(c.Color); err != nil {
		return err
	}
	if _, err := engine.ParseFailurePolicy(c.OnError); err != nil {
		return err
	}
	if c.Timeout < 0 || c.ConnectTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// ResolvePath picks the config file to load: explicit, then $KASS_CONFIG,
// then $HOME/.config/kass/config.yaml if it exists. It returns "" when
// there is none.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".config", "kass", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Load reads the file at path over the defaults. An empty path returns
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path, cfg)
}

// Parse decodes a YAML document over base. Keys absent from the document
// keep their value from base.
func Parse(data []byte, name string, base Config) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("parse config %s: %w", name, err)
	}
	if len(raw) == 0 {
		return base, nil
	}
	if err := checkSchema(raw); err != nil {
		return base, fmt.Errorf("invalid config %s: %w", name, err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", name, err)
	}
	return cfg, nil
}

// checkSchema unifies the decoded document with #Config.
func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return err
	}
	return def.Unify(doc).Validate(cue.Concrete(true))
}
