package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/riftchanger/skintools/pkg/hashing"
)

// PathResolver maps record hashes back to paths. *hashdict.Dictionary
// satisfies it.
type PathResolver interface {
	Lookup(hash uint64) (string, bool)
}

// ExtractOption configures extraction.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers int
	filter  func(Record) bool
}

// WithWorkers bounds the number of records decoded concurrently.
func WithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRecordFilter extracts only records for which keep returns true.
func WithRecordFilter(keep func(Record) bool) ExtractOption {
	return func(c *extractConfig) {
		c.filter = keep
	}
}

// HashFileName is the name used for a record whose path is unknown.
func HashFileName(hash uint64) string {
	return hashing.Format64(hash) + ".bin"
}

// ExtractAll decodes every record into dir. Records whose hash resolves are
// written under their path; the rest are written as "<16 hex>.bin". A nil
// resolver names every record by hash.
func (a *Archive) ExtractAll(ctx context.Context, resolver PathResolver, dir string, opts ...ExtractOption) error {
	cfg := &extractConfig{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Directory cache avoids repeated MkdirAll calls across workers.
	var mu sync.Mutex
	created := make(map[string]struct{})
	ensureDir := func(p string) error {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := created[p]; ok {
			return nil
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
		created[p] = struct{}{}
		return nil
	}

	type job struct {
		rec    Record
		name   string
		target string
	}
	jobs := make([]job, 0, len(a.records))
	for _, rec := range a.records {
		if cfg.filter != nil && !cfg.filter(rec) {
			continue
		}
		name := HashFileName(rec.PathHash)
		if resolver != nil {
			if p, ok := resolver.Lookup(rec.PathHash); ok {
				name = p
			}
		}
		target, err := SafeJoin(dir, name)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{rec: rec, name: name, target: target})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)

	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := a.Read(j.rec)
			if err != nil {
				return fmt.Errorf("extract %s: %w", j.name, err)
			}
			if err := ensureDir(filepath.Dir(j.target)); err != nil {
				return fmt.Errorf("create dir for %s: %w", j.name, err)
			}
			if err := os.WriteFile(j.target, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", j.name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// SafeJoin joins a slash-separated record path onto dir, rejecting absolute
// paths and any path that would escape dir.
func SafeJoin(dir, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}
