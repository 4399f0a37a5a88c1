package overlay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftchanger/skintools/pkg/archive"
	"github.com/riftchanger/skintools/pkg/modpkg"
	"github.com/riftchanger/skintools/pkg/toolexec"
)

const arcadeID = "Ahri/Arcade Ahri"

type fixture struct {
	root   string
	layout modpkg.Layout
	tools  *toolexec.Tools
	cfg    Config
}

// newFixture installs a fake mod-tools script and one generated package.
func newFixture(t *testing.T, script string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}

	base := t.TempDir()
	root := filepath.Join(base, "manager")
	toolDir := filepath.Join(root, "cslol-tools")
	require.NoError(t, os.MkdirAll(toolDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, toolexec.ModTools), []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	tools, err := toolexec.Locate(root)
	require.NoError(t, err)

	layout := modpkg.Layout{Root: filepath.Join(base, "generated")}
	wad, err := archive.Pack([]archive.Entry{
		{Path: "data/characters/ahri/skins/skin0.bin", Data: []byte("PROP arcade")},
	})
	require.NoError(t, err)
	require.NoError(t, modpkg.Write(layout.Path("Ahri", "Arcade Ahri"), &modpkg.Package{
		Metadata: modpkg.Metadata{Author: "RiftChanger", Name: "Arcade Ahri", Version: "1.0.0"},
		Subject:  "Ahri",
		Archive:  wad,
	}))

	return &fixture{
		root:   root,
		layout: layout,
		tools:  tools,
		cfg: Config{
			Root:        root,
			GameDir:     filepath.Join(base, "Game"),
			GracePeriod: 200 * time.Millisecond,
			StopTimeout: 300 * time.Millisecond,
		},
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return New(f.cfg, f.tools, f.layout, opts...)
}

// interactive records its argv and waits on stdin like the real tool.
const interactive = `case "$1" in
mkoverlay) echo "$@" > "$3/../mkoverlay.args"; exit 0 ;;
runoverlay) echo "injecting"; read line; echo "stopping"; exit 0 ;;
esac
exit 1`

func TestApply(t *testing.T) {
	f := newFixture(t, interactive)
	o := f.orchestrator()
	ctx := context.Background()

	require.NoError(t, o.Apply(ctx, []string{arcadeID}))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })

	st := o.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.True(t, st.Running)
	assert.Equal(t, []string{"Ahri_Arcade Ahri"}, st.Mods)
	assert.Contains(t, st.Log, "injecting")

	cfg := f.cfg
	cfg.setDefaults()

	t.Run("Imported", func(t *testing.T) {
		installed := filepath.Join(cfg.InstalledDir(), "Ahri_Arcade Ahri")
		assert.FileExists(t, filepath.Join(installed, "META", "info.json"))
		assert.FileExists(t, filepath.Join(installed, "WAD", "Ahri.wad.client"))

		mods, err := o.Installed()
		require.NoError(t, err)
		assert.Equal(t, []string{"Ahri_Arcade Ahri"}, mods)
	})

	t.Run("Profile", func(t *testing.T) {
		data, err := os.ReadFile(cfg.ProfileFile())
		require.NoError(t, err)
		assert.Equal(t, "Ahri_Arcade Ahri\n", string(data))
		assert.DirExists(t, cfg.OverlayDir())
	})

	t.Run("MergeArgs", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(cfg.ProfilesDir(), "mkoverlay.args"))
		require.NoError(t, err)
		args := string(data)
		assert.Contains(t, args, "mkoverlay "+cfg.InstalledDir()+" "+cfg.OverlayDir())
		assert.Contains(t, args, "--game:"+f.cfg.GameDir)
		assert.Contains(t, args, "--mods:Ahri_Arcade Ahri")
		assert.Contains(t, args, "--ignoreConflict")
	})

	t.Run("Stop", func(t *testing.T) {
		require.NoError(t, o.Stop(ctx))
		st := o.Status()
		assert.Equal(t, StateIdle, st.State)
		assert.False(t, st.Running)
		assert.Empty(t, st.Mods)
		assert.Contains(t, st.Log, "injecting")

		// Stopping an idle orchestrator is a no-op.
		require.NoError(t, o.Stop(ctx))
		assert.Equal(t, StateIdle, o.Status().State)
	})
}

func TestApply_Preconditions(t *testing.T) {
	f := newFixture(t, interactive)
	ctx := context.Background()

	t.Run("EmptySelection", func(t *testing.T) {
		err := f.orchestrator().Apply(ctx, nil)
		assert.ErrorIs(t, err, ErrNoPackagesSelected)
	})

	t.Run("ToolsUnavailable", func(t *testing.T) {
		o := New(f.cfg, nil, f.layout)
		err := o.Apply(ctx, []string{arcadeID})
		assert.ErrorIs(t, err, ErrToolsUnavailable)
		assert.Equal(t, StateIdle, o.Status().State)
	})

	t.Run("InvalidPackage", func(t *testing.T) {
		broken := f.layout.Path("Ahri", "Broken")
		require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0o644))

		o := f.orchestrator()
		err := o.Apply(ctx, []string{"Ahri/Broken"})
		assert.ErrorIs(t, err, ErrInvalidPackage)
		assert.Equal(t, StateIdle, o.Status().State)
	})

	t.Run("EscapingID", func(t *testing.T) {
		err := f.orchestrator().Apply(ctx, []string{"../outside"})
		assert.ErrorIs(t, err, ErrInvalidPackage)
	})
}

func TestApply_MergeFailed(t *testing.T) {
	f := newFixture(t, `echo "conflict in data/characters/ahri" >&2; exit 3`)
	o := f.orchestrator()

	err := o.Apply(context.Background(), []string{arcadeID})
	require.ErrorIs(t, err, ErrMergeFailed)

	var toolErr *toolexec.Error
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "mkoverlay", toolErr.Op)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Contains(t, toolErr.Output, "conflict in data/characters/ahri")
	assert.Equal(t, StateIdle, o.Status().State)
}

func TestApply_StartupFailed(t *testing.T) {
	f := newFixture(t, `case "$1" in
mkoverlay) exit 0 ;;
runoverlay) echo "game executable not found"; exit 2 ;;
esac`)
	o := f.orchestrator()

	err := o.Apply(context.Background(), []string{arcadeID})
	require.ErrorIs(t, err, ErrInjectionStartupFailed)

	var toolErr *toolexec.Error
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, 2, toolErr.ExitCode)
	assert.Contains(t, toolErr.Output, "game executable not found")

	st := o.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Contains(t, st.Log, "game executable not found")
}

func TestSession_ExitsOnItsOwn(t *testing.T) {
	f := newFixture(t, `case "$1" in
mkoverlay) exit 0 ;;
runoverlay) echo "injecting"; sleep 1; exit 0 ;;
esac`)
	o := f.orchestrator()

	require.NoError(t, o.Apply(context.Background(), []string{arcadeID}))
	assert.Equal(t, StateRunning, o.Status().State)

	assert.Eventually(t, func() bool {
		return o.Status().State == StateIdle
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, o.Status().Log, "[process exited with code 0]")
}

func TestStop_KillsAfterTimeout(t *testing.T) {
	f := newFixture(t, `case "$1" in
mkoverlay) exit 0 ;;
runoverlay) echo "injecting"; exec sleep 30 ;;
esac`)
	o := f.orchestrator()
	require.NoError(t, o.Apply(context.Background(), []string{arcadeID}))

	start := time.Now()
	require.NoError(t, o.Stop(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateIdle, o.Status().State)
}

func TestApply_ReplacesRunningSession(t *testing.T) {
	f := newFixture(t, interactive)

	var (
		mu     sync.Mutex
		states []State
	)
	o := f.orchestrator(WithStateHook(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	ctx := context.Background()

	require.NoError(t, o.Apply(ctx, []string{arcadeID}))
	require.NoError(t, o.Apply(ctx, []string{arcadeID}))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateBuilding, StateRunning,
		StateStopping, StateIdle,
		StateBuilding, StateRunning,
	}, states)
}

func TestApply_AlreadyInProgress(t *testing.T) {
	f := newFixture(t, `case "$1" in
mkoverlay) sleep 1; exit 0 ;;
runoverlay) read line; exit 0 ;;
esac`)
	o := f.orchestrator()
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- o.Apply(ctx, []string{arcadeID}) }()

	require.Eventually(t, func() bool {
		return o.Status().State == StateBuilding
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, o.Apply(ctx, []string{arcadeID}), ErrAlreadyInProgress)

	require.NoError(t, <-first)
	require.NoError(t, o.Stop(ctx))
}

func TestRemoveAll(t *testing.T) {
	f := newFixture(t, interactive)
	o := f.orchestrator()
	ctx := context.Background()

	require.NoError(t, o.Apply(ctx, []string{arcadeID}))
	require.NoError(t, o.RemoveAll(ctx))

	assert.Equal(t, StateIdle, o.Status().State)
	mods, err := o.Installed()
	require.NoError(t, err)
	assert.Empty(t, mods)

	cfg := f.cfg
	cfg.setDefaults()
	assert.NoFileExists(t, cfg.ProfileFile())
	assert.NoDirExists(t, cfg.OverlayDir())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "building", StateBuilding.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestModName(t *testing.T) {
	assert.Equal(t, "Ahri_Arcade Ahri", ModName("Ahri/Arcade Ahri"))
	assert.Equal(t, "Ahri_chromas_Arcade Ahri_Ahri 42", ModName(`Ahri\chromas\Arcade Ahri\Ahri 42.zip`))
}
