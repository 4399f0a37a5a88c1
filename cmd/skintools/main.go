// Package main provides a command-line tool for generating and applying
// skin mod packages.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/riftchanger/skintools/pkg/config"
)

// options holds the parsed command line.
type options struct {
	mode       string
	configPath string
	gameDir    string
	outputDir  string
	input      string
	subject    string
	variant    int
	name       string
	packages   []string
	packer     string
	strategy   string
	workers    int
	verify     bool
	force      bool
	verbose    bool
	args       []string
}

const modes = "extract, build, generate, generate-all, discover, list, apply, hash"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var opts options

	flagSet := pflag.NewFlagSet("skintools", pflag.ContinueOnError)
	flagSet.StringVar(&opts.mode, "mode", "", "operation mode: "+modes)
	flagSet.StringVar(&opts.configPath, "config", "", "config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&opts.gameDir, "game", "", "game installation directory (overrides paths.game)")
	flagSet.StringVarP(&opts.outputDir, "output", "o", "", "output directory or file")
	flagSet.StringVarP(&opts.input, "input", "i", "", "input archive or directory")
	flagSet.StringVarP(&opts.subject, "subject", "s", "", "subject id, e.g. Ahri")
	flagSet.IntVarP(&opts.variant, "variant", "n", -1, "variant number for generate")
	flagSet.StringVar(&opts.name, "name", "", "display name for generate (default: from catalog)")
	flagSet.StringSliceVar(&opts.packages, "packages", nil, "package ids to apply (see --mode list)")
	flagSet.StringVar(&opts.packer, "packer", "", "archive packer: manual, zstd, external (overrides generator.packer)")
	flagSet.StringVar(&opts.strategy, "strategy", "", "descriptor patch strategy (overrides generator.patch_strategy)")
	flagSet.IntVar(&opts.workers, "workers", 0, "parallel workers for extract (default: number of CPUs)")
	flagSet.BoolVar(&opts.verify, "verify", false, "verify record checksums while extracting")
	flagSet.BoolVar(&opts.force, "force", false, "allow a non-empty output directory")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.SetOutput(os.Stderr)
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	opts.args = flagSet.Args()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opts.mode == "" {
		flagSet.Usage()
		return fmt.Errorf("--mode is required (%s)", modes)
	}

	// hash needs no configuration.
	if opts.mode == "hash" {
		return runHash(&opts, nil)
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	switch opts.mode {
	case "extract":
		return app.extract(&opts)
	case "build":
		return app.build(&opts)
	case "generate":
		return app.generate(&opts)
	case "generate-all":
		return app.generateAll(&opts)
	case "discover":
		return app.discover(&opts)
	case "list":
		return app.list()
	case "apply":
		return app.apply(&opts)
	default:
		return fmt.Errorf("unknown mode %q (want one of: %s)", opts.mode, modes)
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(flagSet.Output(), `skintools generates skin mod packages and applies them to the game.

Usage:
  skintools --mode <mode> [flags] [args]

Modes:
  %s

Flags:
`, modes)
	flagSet.PrintDefaults()
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if opts.gameDir != "" {
		cfg.Paths.Game = opts.gameDir
	}
	if opts.outputDir != "" && (opts.mode == "generate" || opts.mode == "generate-all") {
		cfg.Paths.Output = opts.outputDir
	}
	if opts.packer != "" {
		cfg.Generator.Packer = strings.ToLower(opts.packer)
	}
	if opts.strategy != "" {
		cfg.Generator.PatchStrategy = opts.strategy
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
