// Package modgen builds mod packages that make a subject's variant N load in
// place of its default variant.
package modgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/riftchanger/skintools/pkg/archive"
	"github.com/riftchanger/skintools/pkg/catalog"
	"github.com/riftchanger/skintools/pkg/descriptor"
	"github.com/riftchanger/skintools/pkg/modpkg"
	"github.com/riftchanger/skintools/pkg/variant"
)

var (
	// ErrSourceArchiveMissing is returned when the game has no archive for
	// the subject.
	ErrSourceArchiveMissing = errors.New("source archive not found")

	// ErrVariantNotFound is returned when the source archive has no
	// descriptor for the requested variant.
	ErrVariantNotFound = errors.New("variant not found in source archive")

	// ErrAlreadyInProgress is returned when a generation is already running
	// on the assembler.
	ErrAlreadyInProgress = errors.New("generation already in progress")
)

// Defaults for package metadata.
const (
	DefaultAuthor  = "RiftChanger"
	DefaultVersion = "1.0.0"
)

// Result describes one written package.
type Result struct {
	Path     string
	Metadata modpkg.Metadata
	Subjects []string // subjects whose descriptors were patched
	Parent   string   // parent variant name for undocumented variants
}

// Assembler generates mod packages from a game install. It runs at most one
// generation at a time.
type Assembler struct {
	catalog  catalog.Catalog
	locator  SourceLocator
	layout   modpkg.Layout
	resolver *Resolver
	patcher  *descriptor.Patcher
	encoder  archive.Encoder
	author   string
	version  string
	logger   *slog.Logger

	busy atomic.Bool
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

// WithEncoder sets the archive encoder; the default is archive.ManualEncoder.
func WithEncoder(e archive.Encoder) Option {
	return func(a *Assembler) {
		a.encoder = e
	}
}

// WithPatcher sets the descriptor patcher.
func WithPatcher(p *descriptor.Patcher) Option {
	return func(a *Assembler) {
		a.patcher = p
	}
}

// WithResolver sets the record path resolver.
func WithResolver(r *Resolver) Option {
	return func(a *Assembler) {
		a.resolver = r
	}
}

// WithMetadata sets the author and version stamped into packages.
func WithMetadata(author, version string) Option {
	return func(a *Assembler) {
		if author != "" {
			a.author = author
		}
		if version != "" {
			a.version = version
		}
	}
}

// New creates an Assembler.
func New(cat catalog.Catalog, locator SourceLocator, layout modpkg.Layout, opts ...Option) *Assembler {
	a := &Assembler{
		catalog:  cat,
		locator:  locator,
		layout:   layout,
		resolver: NewResolver(nil, DefaultMaxVariant, DefaultCompanions),
		patcher:  descriptor.NewPatcher(),
		encoder:  archive.ManualEncoder{},
		author:   DefaultAuthor,
		version:  DefaultVersion,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Busy reports whether a generation is running.
func (a *Assembler) Busy() bool {
	return a.busy.Load()
}

func (a *Assembler) acquire() error {
	if !a.busy.CompareAndSwap(false, true) {
		return ErrAlreadyInProgress
	}
	return nil
}

func (a *Assembler) release() {
	a.busy.Store(false)
}

func (a *Assembler) load(subject string) (*source, error) {
	arc, err := a.locator.Open(subject)
	if err != nil {
		return nil, err
	}
	return newSource(subject, arc, a.resolver.Resolve(arc, subject)), nil
}

// GenerateVariant builds the package that makes variant n of subject load
// as its default, named displayName.
func (a *Assembler) GenerateVariant(ctx context.Context, subject string, n int, displayName string) (*Result, error) {
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()

	src, err := a.load(subject)
	if err != nil {
		return nil, err
	}
	return a.generate(ctx, src, n, displayName, "")
}

func (a *Assembler) generate(ctx context.Context, src *source, n int, name, parent string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := src.descriptor(src.subject, n); !ok {
		return nil, fmt.Errorf("%w: %s variant %d", ErrVariantNotFound, src.subject, n)
	}

	var (
		entries []archive.Entry
		patched []string
	)
	for _, s := range src.subjects {
		rec, ok := src.descriptor(s, n)
		if !ok {
			continue
		}
		data, err := src.archive.Read(rec)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", variant.DescriptorPath(s, n), err)
		}

		res, err := a.patcher.Patch(data, n, src.subjects)
		switch {
		case errors.Is(err, descriptor.ErrFormatUnrecognized):
			a.logger.Warn("descriptor not recognized, storing unmodified",
				"subject", s, "variant", n, "error", err)
		case err != nil:
			return nil, fmt.Errorf("patch %s: %w", variant.DescriptorPath(s, n), err)
		default:
			a.logger.Debug("patched descriptor",
				"subject", s, "variant", n, "strategy", res.Strategy, "hashes", res.Hashes, "strings", res.Strings)
		}

		entries = append(entries, archive.Entry{Path: variant.DescriptorPath(s, 0), Data: res.Data})
		patched = append(patched, s)
	}

	archive.SortByHash(entries)
	wad, err := a.encoder.Encode(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("pack %s variant %d: %w", src.subject, n, err)
	}

	meta := modpkg.Metadata{
		Author:      a.author,
		Description: name + " as default skin",
		Name:        name,
		Version:     a.version,
	}
	dest := a.layout.Path(src.subject, name)
	if parent != "" {
		dest = a.layout.ChromaPath(src.subject, parent, name)
	}
	if err := modpkg.Write(dest, &modpkg.Package{Metadata: meta, Subject: src.subject, Archive: wad}); err != nil {
		return nil, fmt.Errorf("write package %s: %w", name, err)
	}

	a.logger.Info("generated package",
		"subject", src.subject, "variant", n, "name", name, "path", dest)

	return &Result{Path: dest, Metadata: meta, Subjects: patched, Parent: parent}, nil
}

// DiscoverVariants returns the subject's undocumented variants.
func (a *Assembler) DiscoverVariants(ctx context.Context, subject string) ([]variant.Undocumented, error) {
	documented, err := a.catalog.Variants(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("catalog variants: %w", err)
	}
	src, err := a.load(subject)
	if err != nil {
		return nil, err
	}
	return variant.Discover(documented, variant.Numbers(src.paths, subject)), nil
}
