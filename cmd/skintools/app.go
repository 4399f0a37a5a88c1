package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/riftchanger/skintools/pkg/archive"
	"github.com/riftchanger/skintools/pkg/catalog"
	"github.com/riftchanger/skintools/pkg/config"
	"github.com/riftchanger/skintools/pkg/descriptor"
	"github.com/riftchanger/skintools/pkg/hashdict"
	"github.com/riftchanger/skintools/pkg/modgen"
	"github.com/riftchanger/skintools/pkg/modpkg"
	"github.com/riftchanger/skintools/pkg/overlay"
	"github.com/riftchanger/skintools/pkg/toolexec"
	"github.com/riftchanger/skintools/pkg/variant"
)

// app wires the configured components together.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tools  *toolexec.Tools
	layout modpkg.Layout

	paths   *hashdict.Dictionary // 64-bit record paths
	entries *hashdict.Dictionary // 32-bit descriptor names
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		layout: modpkg.Layout{Root: cfg.Paths.Output},
	}

	tools, err := toolexec.Locate(cfg.Paths.Tools)
	if err != nil {
		logger.Debug("external tools unavailable", "error", err)
	} else {
		a.tools = tools
		logger.Debug("located tools", "dir", tools.Dir)
	}

	if a.paths, err = loadDictionary(cfg.GameHashesPath(), 64, logger); err != nil {
		return nil, err
	}
	if a.entries, err = loadDictionary(cfg.EntryHashesPath(), 32, logger); err != nil {
		return nil, err
	}
	return a, nil
}

// loadDictionary returns nil when the file does not exist.
func loadDictionary(path string, width int, logger *slog.Logger) (*hashdict.Dictionary, error) {
	d, err := hashdict.LoadFile(path, width)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("hash dictionary not found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded hash dictionary", "path", path, "entries", d.Len(), "skipped", d.Skipped())
	return d, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) encoder() archive.Encoder {
	switch a.cfg.Generator.Packer {
	case config.PackerZstd:
		return archive.ZstdEncoder{}
	case config.PackerExternal:
		if a.tools == nil || a.tools.WadMake == "" {
			a.logger.Warn("wad-make not found, packing archives in-process", "tools", a.cfg.Paths.Tools)
			return archive.ManualEncoder{}
		}
		return &archive.FallbackEncoder{
			Primary: &archive.ExternalEncoder{
				Packer:  a.tools.WadMake,
				GameDir: a.cfg.Paths.Game,
				Logger:  a.logger,
			},
			Fallback: archive.ManualEncoder{},
			Logger:   a.logger,
		}
	default:
		return archive.ManualEncoder{}
	}
}

func (a *app) catalog() (*catalog.Static, error) {
	if a.cfg.Catalog.File == "" {
		return nil, errors.New("catalog.file is required for this mode")
	}
	return catalog.LoadFile(a.cfg.Catalog.File)
}

func (a *app) assembler() (*modgen.Assembler, error) {
	if a.cfg.Paths.Game == "" {
		return nil, errors.New("game directory is required (--game or paths.game)")
	}
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	strategy, err := a.cfg.Strategy()
	if err != nil {
		return nil, err
	}

	patcherOpts := []descriptor.Option{descriptor.WithStrategy(strategy)}
	if strategy != descriptor.StrategyLinkedStrings && a.entries != nil {
		patcherOpts = append(patcherOpts, descriptor.WithDictionary(a.entries))
	}

	return modgen.New(cat, modgen.SourceLocator{GameDir: a.cfg.Paths.Game}, a.layout,
		modgen.WithLogger(a.logger),
		modgen.WithEncoder(a.encoder()),
		modgen.WithPatcher(descriptor.NewPatcher(patcherOpts...)),
		modgen.WithResolver(modgen.NewResolver(a.paths, a.cfg.Generator.MaxVariant, a.cfg.Generator.Companions)),
		modgen.WithMetadata(a.cfg.Generator.Author, a.cfg.Generator.Version),
	), nil
}

func (a *app) extract(opts *options) error {
	if opts.input == "" || opts.outputDir == "" {
		return errors.New("extract mode requires --input and --output")
	}
	if err := prepareOutputDir(opts.outputDir, opts.force); err != nil {
		return err
	}

	arc, err := archive.Open(opts.input, archive.WithVerifyChecksums(opts.verify))
	if err != nil {
		return err
	}
	fmt.Printf("Archive loaded: %d records, version %s\n", arc.Len(), arc.Version())

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("Extracting records...")
	if err := arc.ExtractAll(ctx, a.paths, opts.outputDir, archive.WithWorkers(opts.workers)); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	fmt.Printf("Extraction complete. Files written to %s\n", opts.outputDir)
	return nil
}

func (a *app) build(opts *options) error {
	if opts.input == "" || opts.outputDir == "" {
		return errors.New("build mode requires --input and --output (archive file)")
	}

	fmt.Println("Scanning input directory...")
	entries, err := archive.ScanDir(opts.input)
	if err != nil {
		return fmt.Errorf("scan files: %w", err)
	}
	archive.SortByHash(entries)
	fmt.Printf("Found %d files\n", len(entries))

	ctx, cancel := signalContext()
	defer cancel()

	enc := a.encoder()
	fmt.Printf("Building archive (%s)...\n", enc.Name())
	data, err := enc.Encode(ctx, entries)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.outputDir), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(opts.outputDir, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	fmt.Printf("Build complete. Archive written to %s\n", opts.outputDir)
	return nil
}

func (a *app) generate(opts *options) error {
	if opts.subject == "" || opts.variant < 0 {
		return errors.New("generate mode requires --subject and --variant")
	}
	asm, err := a.assembler()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	name := opts.name
	if name == "" {
		if name, err = a.variantName(ctx, asm, opts.subject, opts.variant); err != nil {
			return err
		}
	}

	res, err := asm.GenerateVariant(ctx, opts.subject, opts.variant, name)
	if err != nil {
		return err
	}
	fmt.Printf("Generated %s (%d descriptors) at %s\n", res.Metadata.Name, len(res.Subjects), res.Path)
	return nil
}

// variantName names variant n from the catalog, falling back to the
// undocumented naming scheme.
func (a *app) variantName(ctx context.Context, asm *modgen.Assembler, subjectID string, n int) (string, error) {
	cat, err := a.catalog()
	if err != nil {
		return "", err
	}
	subject, err := cat.Subject(ctx, subjectID)
	if err != nil {
		return "", err
	}
	variants, err := cat.Variants(ctx, subjectID)
	if err != nil {
		return "", err
	}
	for _, v := range variants {
		if v.Number == n {
			return variant.DisplayName(subject, v), nil
		}
	}

	found, err := asm.DiscoverVariants(ctx, subjectID)
	if err != nil {
		return "", err
	}
	for _, u := range found {
		if u.Number == n {
			return u.Name(subject), nil
		}
	}
	return variant.Undocumented{Number: n}.Name(subject), nil
}

func printProgress(ev modgen.ProgressEvent) {
	switch ev.Stage {
	case modgen.StageScanning:
		fmt.Printf("Scanning %s...\n", ev.Subject)
	case modgen.StageGenerated:
		fmt.Printf("[%d/%d] %s\n", ev.Done, ev.Total, ev.Name)
	case modgen.StageFailed:
		fmt.Printf("[%d/%d] %s failed: %v\n", ev.Done, ev.Total, ev.Name, ev.Err)
	}
}

func (a *app) generateAll(opts *options) error {
	asm, err := a.assembler()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if opts.subject == "" {
		return generateEverything(ctx, asm)
	}

	batch, err := asm.StartGenerateAll(ctx, opts.subject, printProgress)
	if err != nil {
		return err
	}

	res, err := batch.Wait()
	if err != nil {
		return err
	}
	fmt.Printf("Generated %d packages, %d failed\n", res.Generated, res.Failed)
	if res.Cancelled {
		return context.Canceled
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d variants failed", res.Failed, res.Generated+res.Failed)
	}
	return nil
}

func generateEverything(ctx context.Context, asm *modgen.Assembler) error {
	sweep, err := asm.GenerateEverything(ctx, printProgress)
	if err != nil {
		return err
	}
	for _, sr := range sweep.Subjects {
		if sr.Err != nil {
			fmt.Printf("%s: skipped: %v\n", sr.Subject, sr.Err)
		}
	}
	fmt.Printf("Generated %d packages across %d subjects, %d variants failed, %d subjects skipped\n",
		sweep.Generated, len(sweep.Subjects), sweep.Failed, sweep.FailedSubjects)
	if sweep.Cancelled {
		return context.Canceled
	}
	if sweep.Failed > 0 || sweep.FailedSubjects > 0 {
		return fmt.Errorf("%d variants and %d subjects failed", sweep.Failed, sweep.FailedSubjects)
	}
	return nil
}

func (a *app) discover(opts *options) error {
	if opts.subject == "" {
		return errors.New("discover mode requires --subject")
	}
	asm, err := a.assembler()
	if err != nil {
		return err
	}
	cat, err := a.catalog()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	subject, err := cat.Subject(ctx, opts.subject)
	if err != nil {
		return err
	}
	found, err := asm.DiscoverVariants(ctx, opts.subject)
	if err != nil {
		return err
	}

	fmt.Printf("%d undocumented variants of %s\n", len(found), subject.Name)
	for _, u := range found {
		parent := "-"
		if u.Parent != nil {
			parent = variant.DisplayName(subject, *u.Parent)
		}
		fmt.Printf("%4d  %-32s  parent: %s\n", u.Number, u.Name(subject), parent)
	}
	return nil
}

func (a *app) list() error {
	installed, err := a.layout.Scan()
	if err != nil {
		return err
	}
	for _, p := range installed {
		fmt.Println(p.ID())
	}
	return nil
}

func (a *app) apply(opts *options) error {
	ids := append(opts.packages, opts.args...)
	orch := overlay.New(a.cfg.OverlaySettings(), a.tools, a.layout, overlay.WithLogger(a.logger))

	ctx, cancel := signalContext()
	defer cancel()

	if err := orch.Apply(ctx, ids); err != nil {
		return err
	}
	fmt.Printf("Injection running with %d mods. Press Ctrl+C to stop.\n", len(ids))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for orch.Status().Running {
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.Background(), a.cfg.Overlay.StopTimeout+time.Second)
			err := orch.Stop(stopCtx)
			stopCancel()
			printLog(os.Stdout, orch.Status().Log)
			return err
		case <-ticker.C:
		}
	}

	printLog(os.Stdout, orch.Status().Log)
	return errors.New("injection process exited")
}

func printLog(w io.Writer, log string) {
	if log == "" {
		return
	}
	fmt.Fprintln(w, "--- injection log ---")
	fmt.Fprint(w, log)
	if log[len(log)-1] != '\n' {
		fmt.Fprintln(w)
	}
}

func prepareOutputDir(dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if force {
		return nil
	}
	empty, err := isDirEmpty(dir)
	if err != nil {
		return fmt.Errorf("check output directory: %w", err)
	}
	if !empty {
		return errors.New("output directory is not empty (use --force to override)")
	}
	return nil
}

func isDirEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
