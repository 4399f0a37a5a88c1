// Package overlay merges mod packages into an overlay with the external
// mod-tools and supervises the long-running injection process.
//
// An Orchestrator moves through Idle → Building → Running → Stopping → Idle
// and holds at most one injection session.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/riftchanger/skintools/pkg/modpkg"
	"github.com/riftchanger/skintools/pkg/toolexec"
)

var (
	// ErrNoPackagesSelected is returned by Apply with an empty selection.
	ErrNoPackagesSelected = errors.New("no packages selected")

	// ErrAlreadyInProgress is returned while an overlay is being built or a
	// session is stopping.
	ErrAlreadyInProgress = errors.New("overlay operation already in progress")

	// ErrMergeFailed is returned when mod-tools mkoverlay fails.
	ErrMergeFailed = errors.New("overlay merge failed")

	// ErrInjectionStartupFailed is returned when mod-tools runoverlay exits
	// within the grace period or cannot be started.
	ErrInjectionStartupFailed = errors.New("injection startup failed")

	// ErrToolsUnavailable is returned when mod-tools was not located.
	ErrToolsUnavailable = errors.New("mod tools unavailable")

	// ErrInvalidPackage is returned when a selected package is malformed.
	ErrInvalidPackage = modpkg.ErrInvalidPackage
)

// State is the orchestrator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config configures an Orchestrator.
type Config struct {
	// Root is the mod manager directory holding installed/ and profiles/.
	Root string
	// GameDir is the game installation passed to mod-tools.
	GameDir string
	// Profile names the profile file and overlay directory.
	Profile string

	GracePeriod  time.Duration // early exit window after runoverlay starts
	StopTimeout  time.Duration // wait after closing stdin before killing
	MergeTimeout time.Duration // bound on mkoverlay
	LogSize      int           // session log capacity in bytes
	MessageLimit int           // bound on diagnostics carried by errors
}

// Default tuning values.
const (
	DefaultProfile      = "skintools"
	DefaultGracePeriod  = 500 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
	DefaultMergeTimeout = time.Minute
	DefaultMessageLimit = toolexec.DefaultOutputLimit
)

func (c *Config) setDefaults() {
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.MergeTimeout <= 0 {
		c.MergeTimeout = DefaultMergeTimeout
	}
	if c.LogSize <= 0 {
		c.LogSize = DefaultLogSize
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
}

// InstalledDir is where imported packages are unpacked.
func (c *Config) InstalledDir() string { return filepath.Join(c.Root, "installed") }

// ProfilesDir holds profile files and overlay directories.
func (c *Config) ProfilesDir() string { return filepath.Join(c.Root, "profiles") }

// ProfileFile lists the active mods, one per line.
func (c *Config) ProfileFile() string {
	return filepath.Join(c.ProfilesDir(), c.Profile+".profile")
}

// OverlayDir is the build target of mkoverlay.
func (c *Config) OverlayDir() string { return filepath.Join(c.ProfilesDir(), c.Profile) }

// ConfigFile is the runoverlay configuration path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.Root, c.Profile+".config.json")
}

// Session is one running injection process and its output log.
type Session struct {
	proc    *toolexec.Process
	overlay string
	mods    []string
	log     *RingBuffer
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State   State
	Running bool
	Mods    []string
	// Log is the current session's output, or the last session's after it
	// ended.
	Log string
}

// Orchestrator builds overlays and supervises the injection session.
type Orchestrator struct {
	cfg    Config
	tools  *toolexec.Tools
	layout modpkg.Layout
	logger *slog.Logger
	hook   func(State)

	mu      sync.Mutex
	state   State
	session *Session
	lastLog *RingBuffer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithStateHook registers fn to observe every state transition, in order.
// fn runs with the orchestrator locked and must not call back into it.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) {
		o.hook = fn
	}
}

// New creates an Orchestrator. tools may be nil, in which case Apply fails
// with ErrToolsUnavailable. Package identifiers are resolved in layout.
func New(cfg Config, tools *toolexec.Tools, layout modpkg.Layout, opts ...Option) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:    cfg,
		tools:  tools,
		layout: layout,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// setState must be called with o.mu held.
func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.logger.Debug("overlay state", "from", o.state, "to", s)
	o.state = s
	if o.hook != nil {
		o.hook(s)
	}
}

// Status returns a snapshot; it is safe in any state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{State: o.state, Running: o.state == StateRunning}
	if o.session != nil {
		st.Mods = append([]string(nil), o.session.mods...)
		st.Log = o.session.log.String()
	} else if o.lastLog != nil {
		st.Log = o.lastLog.String()
	}
	return st
}

// ModName returns the installed directory name for a package identifier.
func ModName(id string) string {
	return modpkg.Sanitize(normalizeID(id))
}

func normalizeID(id string) string {
	return strings.TrimSuffix(strings.ReplaceAll(id, "\\", "/"), modpkg.PackageExt)
}

// Apply builds an overlay from the packages identified by ids (see
// modpkg.Installed.ID) and starts the injection session. A running session
// is stopped first.
func (o *Orchestrator) Apply(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return ErrNoPackagesSelected
	}
	if o.tools == nil || o.tools.ModTools == "" {
		return ErrToolsUnavailable
	}

	o.mu.Lock()
	switch o.state {
	case StateBuilding, StateStopping:
		o.mu.Unlock()
		return ErrAlreadyInProgress
	case StateRunning:
		sess := o.session
		o.setState(StateStopping)
		o.mu.Unlock()

		o.stopSession(ctx, sess)

		o.mu.Lock()
		o.clearSession(sess)
		o.setState(StateIdle)
	}
	o.setState(StateBuilding)
	o.mu.Unlock()

	sess, err := o.build(ctx, ids)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.setState(StateIdle)
		return err
	}
	o.session = sess
	o.lastLog = sess.log
	o.setState(StateRunning)
	go o.watch(sess)
	return nil
}

func (o *Orchestrator) build(ctx context.Context, ids []string) (*Session, error) {
	mods, err := o.importPackages(ids)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(o.cfg.ProfilesDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}
	if err := os.WriteFile(o.cfg.ProfileFile(), []byte(strings.Join(mods, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write profile: %w", err)
	}

	overlay := o.cfg.OverlayDir()
	if err := os.RemoveAll(overlay); err != nil {
		return nil, fmt.Errorf("clear overlay dir: %w", err)
	}
	if err := os.MkdirAll(overlay, 0o755); err != nil {
		return nil, fmt.Errorf("create overlay dir: %w", err)
	}

	mctx, cancel := context.WithTimeout(ctx, o.cfg.MergeTimeout)
	defer cancel()
	if _, err := toolexec.Run(mctx, o.tools.ModTools, []string{
		"mkoverlay",
		o.cfg.InstalledDir(),
		overlay,
		"--game:" + o.cfg.GameDir,
		"--mods:" + strings.Join(mods, "/"),
		"--ignoreConflict",
	}, toolexec.Options{
		Op:          "mkoverlay",
		Dir:         o.cfg.Root,
		Kind:        ErrMergeFailed,
		OutputLimit: o.cfg.MessageLimit,
		Logger:      o.logger,
	}); err != nil {
		return nil, err
	}

	return o.start(ctx, overlay, mods)
}

func (o *Orchestrator) importPackages(ids []string) ([]string, error) {
	if err := os.MkdirAll(o.cfg.InstalledDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create installed dir: %w", err)
	}

	mods := make([]string, 0, len(ids))
	for _, id := range ids {
		src, err := o.layout.Resolve(normalizeID(id))
		if err != nil {
			return nil, err
		}
		name := ModName(id)
		dir := filepath.Join(o.cfg.InstalledDir(), name)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clear %s: %w", name, err)
		}
		if _, err := modpkg.Extract(src, dir); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("import %s: %w", id, err)
		}
		o.logger.Debug("imported package", "id", id, "mod", name)
		mods = append(mods, name)
	}
	return mods, nil
}

func (o *Orchestrator) start(ctx context.Context, overlay string, mods []string) (*Session, error) {
	log := NewRingBuffer(o.cfg.LogSize)
	proc, err := toolexec.Start(o.tools.ModTools, []string{
		"runoverlay",
		overlay,
		o.cfg.ConfigFile(),
		"--game:" + o.cfg.GameDir,
		"--opts:none",
	}, log, toolexec.Options{
		Op:     "runoverlay",
		Dir:    o.cfg.Root,
		Kind:   ErrInjectionStartupFailed,
		Logger: o.logger,
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(o.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-proc.Done():
		o.lastLogSet(log)
		return nil, &toolexec.Error{
			Tool:     filepath.Base(o.tools.ModTools),
			Op:       "runoverlay",
			Output:   toolexec.Truncate(log.String(), o.cfg.MessageLimit),
			ExitCode: proc.ExitCode(),
			Kind:     ErrInjectionStartupFailed,
			Err:      fmt.Errorf("exited with code %d within %s", proc.ExitCode(), o.cfg.GracePeriod),
		}
	case <-ctx.Done():
		_ = proc.Kill()
		<-proc.Done()
		return nil, ctx.Err()
	case <-timer.C:
	}

	o.logger.Info("injection running", "mods", len(mods), "pid", proc.Pid())
	return &Session{proc: proc, overlay: overlay, mods: mods, log: log}, nil
}

func (o *Orchestrator) lastLogSet(log *RingBuffer) {
	o.mu.Lock()
	o.lastLog = log
	o.mu.Unlock()
}

// watch clears a session that exits on its own.
func (o *Orchestrator) watch(sess *Session) {
	<-sess.proc.Done()
	fmt.Fprintf(sess.log, "\n[process exited with code %d]\n", sess.proc.ExitCode())

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == sess && o.state == StateRunning {
		o.logger.Info("injection exited", "code", sess.proc.ExitCode())
		o.session = nil
		o.setState(StateIdle)
	}
}

// stopSession asks the process to quit, then kills it after StopTimeout.
func (o *Orchestrator) stopSession(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	if err := sess.proc.CloseInput("\n"); err != nil {
		o.logger.Debug("close injection stdin", "error", err)
	}

	timer := time.NewTimer(o.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-sess.proc.Done():
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := sess.proc.Kill(); err != nil {
		o.logger.Warn("kill injection process", "error", err)
	}
	<-sess.proc.Done()
}

// clearSession must be called with o.mu held.
func (o *Orchestrator) clearSession(sess *Session) {
	if o.session == sess {
		o.session = nil
	}
}

// Stop ends the running session. It is a no-op unless a session is
// running, and always leaves the orchestrator Idle when it stopped one.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return nil
	}
	sess := o.session
	o.setState(StateStopping)
	o.mu.Unlock()

	o.stopSession(ctx, sess)

	o.mu.Lock()
	o.clearSession(sess)
	o.setState(StateIdle)
	o.mu.Unlock()
	return ctx.Err()
}

// Installed lists the mods currently imported into installed/.
func (o *Orchestrator) Installed() ([]string, error) {
	entries, err := os.ReadDir(o.cfg.InstalledDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list installed: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && modpkg.Exists(filepath.Join(o.cfg.InstalledDir(), e.Name(), filepath.FromSlash(modpkg.InfoPath))) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// RemoveAll stops any session and deletes every imported mod, the overlay
// directory and the profile file.
func (o *Orchestrator) RemoveAll(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrAlreadyInProgress
	}

	for _, p := range []string{o.cfg.InstalledDir(), o.cfg.OverlayDir(), o.cfg.ProfileFile()} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	o.logger.Info("removed all mods", "root", o.cfg.Root)
	return nil
}
