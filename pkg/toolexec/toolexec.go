// Package toolexec locates and runs the external mod tools (mod-tools,
// wad-make, wad-extract). Tools are always invoked with a structured argv,
// never through a shell.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Tool names, without platform suffix.
const (
	ModTools   = "mod-tools"
	WadMake    = "wad-make"
	WadExtract = "wad-extract"
)

// DefaultOutputLimit bounds the diagnostic text carried by an Error.
const DefaultOutputLimit = 500

// ErrToolNotFound is returned by Locate when mod-tools cannot be found.
var ErrToolNotFound = errors.New("tool not found")

// Tools holds the resolved paths of the external tools. Missing optional
// tools have an empty path.
type Tools struct {
	Dir        string
	ModTools   string
	WadMake    string
	WadExtract string
}

// Executable returns name with the platform's executable suffix.
func Executable(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// Locate resolves the tools under <root>/cslol-tools/ or <root>/, in that
// order. The first directory holding mod-tools wins; wad-make and
// wad-extract are taken from the same directory when present.
func Locate(root string) (*Tools, error) {
	for _, dir := range []string{filepath.Join(root, "cslol-tools"), root} {
		modTools := filepath.Join(dir, Executable(ModTools))
		if !isFile(modTools) {
			continue
		}
		t := &Tools{Dir: dir, ModTools: modTools}
		if p := filepath.Join(dir, Executable(WadMake)); isFile(p) {
			t.WadMake = p
		}
		if p := filepath.Join(dir, Executable(WadExtract)); isFile(p) {
			t.WadExtract = p
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s under %s", ErrToolNotFound, Executable(ModTools), root)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Options configures a tool invocation.
type Options struct {
	// Op names the operation for error messages ("mkoverlay", "pack").
	Op string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Kind is the sentinel a failure is mapped to. It is exposed through
	// errors.Is on the returned *Error.
	Kind error
	// OutputLimit bounds Error.Output; zero means DefaultOutputLimit.
	OutputLimit int
	// Logger receives the argv at debug level.
	Logger *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (o *Options) limit() int {
	if o.OutputLimit > 0 {
		return o.OutputLimit
	}
	return DefaultOutputLimit
}

// Error is a failed tool invocation.
type Error struct {
	Tool     string
	Op       string
	Output   string // combined stdout+stderr, truncated
	ExitCode int    // -1 when the process never ran or was killed
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
	}
	b.WriteString(e.Tool)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Output != "" {
		b.WriteString(": ")
		b.WriteString(e.Output)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Truncate trims s and cuts it to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}

// Run executes name with args and waits for it, returning the combined
// output. A non-zero exit, a start failure or cancellation yields *Error.
func Run(ctx context.Context, name string, args []string, opts Options) ([]byte, error) {
	tool := filepath.Base(name)
	opts.logger().Debug("run tool", "tool", tool, "op", opts.Op, "args", args)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	fail := func(out []byte, err error) *Error {
		return &Error{
			Tool:     tool,
			Op:       opts.Op,
			Output:   Truncate(string(out), opts.limit()),
			ExitCode: exitCode(cmd, err),
			Kind:     opts.Kind,
			Err:      err,
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fail(nil, err)
	}

	var out lockedBuffer
	var g errgroup.Group
	g.Go(func() error { _, err := io.Copy(&out, stdout); return err })
	g.Go(func() error { _, err := io.Copy(&out, stderr); return err })
	copyErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return out.Bytes(), fail(out.Bytes(), err)
	}
	if copyErr != nil {
		return out.Bytes(), fail(out.Bytes(), fmt.Errorf("read output: %w", copyErr))
	}
	return out.Bytes(), nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
