package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/riftchanger/skintools/pkg/toolexec"
)

// Encoder turns a set of entries into a complete archive.
type Encoder interface {
	Name() string
	Encode(ctx context.Context, entries []Entry) ([]byte, error)
}

// ManualEncoder writes version 3.0 archives with uncompressed payloads.
type ManualEncoder struct{}

func (ManualEncoder) Name() string { return "manual" }

func (ManualEncoder) Encode(ctx context.Context, entries []Entry) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Pack(entries)
}

// ZstdEncoder writes version 3.4 archives with zstd-compressed payloads.
type ZstdEncoder struct {
	Level int // zero means DefaultCompressionLevel
}

func (ZstdEncoder) Name() string { return "zstd" }

func (e ZstdEncoder) Encode(ctx context.Context, entries []Entry) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	level := e.Level
	if level == 0 {
		level = DefaultCompressionLevel
	}
	return Pack(entries, WithZstd(level))
}

// ExternalEncoder delegates packing to the external wad-make tool:
//
//	wad-make <raw dir> <output file> --game:<game dir>
type ExternalEncoder struct {
	Packer     string // path to wad-make
	GameDir    string
	ScratchDir string // parent for the temporary tree; empty means os.TempDir
	Logger     *slog.Logger
}

func (*ExternalEncoder) Name() string { return "external" }

func (e *ExternalEncoder) Encode(ctx context.Context, entries []Entry) ([]byte, error) {
	if e.Packer == "" {
		return nil, fmt.Errorf("%w: %s not available", ErrPackerFailed, toolexec.WadMake)
	}

	tmp, err := os.MkdirTemp(e.ScratchDir, "wadmake-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	raw := filepath.Join(tmp, "raw")
	if err := WriteTree(raw, entries); err != nil {
		return nil, err
	}

	out := filepath.Join(tmp, "out.wad.client")
	args := []string{raw, out}
	if e.GameDir != "" {
		args = append(args, "--game:"+e.GameDir)
	}

	if _, err := toolexec.Run(ctx, e.Packer, args, toolexec.Options{
		Op:     "pack",
		Kind:   ErrPackerFailed,
		Logger: e.Logger,
	}); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: no output: %w", ErrPackerFailed, err)
	}
	return data, nil
}

// FallbackEncoder tries Primary and, on failure, Fallback. Cancellation is
// never retried.
type FallbackEncoder struct {
	Primary  Encoder
	Fallback Encoder
	Logger   *slog.Logger
}

func (e *FallbackEncoder) Name() string {
	return e.Primary.Name() + "+" + e.Fallback.Name()
}

func (e *FallbackEncoder) Encode(ctx context.Context, entries []Entry) ([]byte, error) {
	data, err := e.Primary.Encode(ctx, entries)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Warn("encoder failed, using fallback",
		"encoder", e.Primary.Name(),
		"fallback", e.Fallback.Name(),
		"error", err)

	data, fbErr := e.Fallback.Encode(ctx, entries)
	if fbErr != nil {
		return nil, fmt.Errorf("%s: %w (after %s: %v)", e.Fallback.Name(), fbErr, e.Primary.Name(), err)
	}
	return data, nil
}

// WriteTree writes entries as files under dir. Entries without a path are
// written as "<16 hex>.bin".
func WriteTree(dir string, entries []Entry) error {
	for _, e := range entries {
		name := e.Path
		if name == "" {
			name = HashFileName(e.PathHash)
		}
		target, err := SafeJoin(dir, name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(target, e.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
