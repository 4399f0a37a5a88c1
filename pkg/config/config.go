// Package config loads skintools configuration.
//
// Configuration comes from a single YAML file named by the SKINTOOLS_CONFIG
// environment variable or an explicit path. There is no discovery; values
// missing from the file keep their Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riftchanger/skintools/pkg/descriptor"
	"github.com/riftchanger/skintools/pkg/hashdict"
	"github.com/riftchanger/skintools/pkg/modgen"
	"github.com/riftchanger/skintools/pkg/overlay"
)

// EnvVar names the environment variable read by Load.
const EnvVar = "SKINTOOLS_CONFIG"

// Packer names accepted by generator.packer.
const (
	PackerManual   = "manual"
	PackerZstd     = "zstd"
	PackerExternal = "external"
)

// Config is the complete skintools configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Generator GeneratorConfig `yaml:"generator"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// PathsConfig configures file system locations.
type PathsConfig struct {
	// Game is the game installation directory (the one containing DATA/).
	Game string `yaml:"game"`
	// Output is the root of the generated package layout.
	Output string `yaml:"output"`
	// Tools is searched for cslol-tools/mod-tools.
	Tools string `yaml:"tools"`
	// Hashes holds hashes.game.txt and hashes.binentries.txt.
	Hashes string `yaml:"hashes"`
	// Cache is the overlay manager root (installed/, profiles/).
	Cache string `yaml:"cache"`
}

// GeneratorConfig configures package generation.
type GeneratorConfig struct {
	Author        string              `yaml:"author"`
	Version       string              `yaml:"version"`
	Packer        string              `yaml:"packer"`
	PatchStrategy string              `yaml:"patch_strategy"`
	MaxVariant    int                 `yaml:"max_variant"`
	Companions    map[string][]string `yaml:"companions"`
}

// OverlayConfig configures the injection orchestrator.
type OverlayConfig struct {
	Profile      string        `yaml:"profile"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	MergeTimeout time.Duration `yaml:"merge_timeout"`
	LogSize      int           `yaml:"log_size"`
	MessageLimit int           `yaml:"message_limit"`
}

// CatalogConfig configures the subject catalog.
type CatalogConfig struct {
	// File is a YAML catalog; see catalog.Load.
	File string `yaml:"file"`
}

// Default returns the configuration used as a base before the file is
// merged.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "skintools")

	return &Config{
		Paths: PathsConfig{
			Output: filepath.Join(root, "packages"),
			Tools:  root,
			Hashes: filepath.Join(root, "hashes"),
			Cache:  filepath.Join(root, "overlay"),
		},
		Generator: GeneratorConfig{
			Author:        modgen.DefaultAuthor,
			Version:       modgen.DefaultVersion,
			Packer:        PackerExternal,
			PatchStrategy: descriptor.StrategyAuto.String(),
			MaxVariant:    modgen.DefaultMaxVariant,
			Companions:    cloneCompanions(modgen.DefaultCompanions),
		},
		Overlay: OverlayConfig{
			Profile:      overlay.DefaultProfile,
			GracePeriod:  overlay.DefaultGracePeriod,
			StopTimeout:  overlay.DefaultStopTimeout,
			MergeTimeout: overlay.DefaultMergeTimeout,
			LogSize:      overlay.DefaultLogSize,
			MessageLimit: overlay.DefaultMessageLimit,
		},
	}
}

func cloneCompanions(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Load loads the file named by SKINTOOLS_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your skintools.yaml, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of Default and expands
// ${VAR} references in paths.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration on top of Default. Unknown keys are
// rejected; companions from the file are merged into the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}

	for _, p := range []*string{
		&c.Paths.Game,
		&c.Paths.Output,
		&c.Paths.Tools,
		&c.Paths.Hashes,
		&c.Paths.Cache,
		&c.Catalog.File,
	} {
		*p = expandVars(*p, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Output == "" {
		errs = append(errs, errors.New("paths.output is required"))
	}
	if c.Paths.Cache == "" {
		errs = append(errs, errors.New("paths.cache is required"))
	}

	switch c.Generator.Packer {
	case PackerManual, PackerZstd, PackerExternal:
	default:
		errs = append(errs, fmt.Errorf("generator.packer must be one of: %v",
			[]string{PackerManual, PackerZstd, PackerExternal}))
	}
	if _, err := c.Strategy(); err != nil {
		errs = append(errs, fmt.Errorf("generator.patch_strategy: %w", err))
	}
	if c.Generator.MaxVariant < 1 {
		errs = append(errs, fmt.Errorf("generator.max_variant must be positive, got %d", c.Generator.MaxVariant))
	}

	if c.Overlay.Profile == "" {
		errs = append(errs, errors.New("overlay.profile is required"))
	}
	for name, d := range map[string]time.Duration{
		"overlay.grace_period":  c.Overlay.GracePeriod,
		"overlay.stop_timeout":  c.Overlay.StopTimeout,
		"overlay.merge_timeout": c.Overlay.MergeTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Overlay.LogSize <= 0 {
		errs = append(errs, fmt.Errorf("overlay.log_size must be positive, got %d", c.Overlay.LogSize))
	}

	return errors.Join(errs...)
}

// Strategy returns the configured descriptor patch strategy.
func (c *Config) Strategy() (descriptor.Strategy, error) {
	return descriptor.ParseStrategy(c.Generator.PatchStrategy)
}

// GameHashesPath returns the 64-bit path dictionary file.
func (c *Config) GameHashesPath() string {
	return filepath.Join(c.Paths.Hashes, hashdict.GameFile)
}

// EntryHashesPath returns the 32-bit descriptor dictionary file.
func (c *Config) EntryHashesPath() string {
	return filepath.Join(c.Paths.Hashes, hashdict.BinEntriesFile)
}

// OverlaySettings returns the orchestrator configuration.
func (c *Config) OverlaySettings() overlay.Config {
	return overlay.Config{
		Root:         c.Paths.Cache,
		GameDir:      c.Paths.Game,
		Profile:      c.Overlay.Profile,
		GracePeriod:  c.Overlay.GracePeriod,
		StopTimeout:  c.Overlay.StopTimeout,
		MergeTimeout: c.Overlay.MergeTimeout,
		LogSize:      c.Overlay.LogSize,
		MessageLimit: c.Overlay.MessageLimit,
	}
}

// EnsurePaths creates the output and cache directories.
func (c *Config) EnsurePaths() error {
	for _, p := range []string{c.Paths.Output, c.Paths.Cache} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", p, err)
		}
	}
	return nil
}
