package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftchanger/skintools/pkg/descriptor"
	"github.com/riftchanger/skintools/pkg/overlay"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "RiftChanger", cfg.Generator.Author)
	assert.Equal(t, "1.0.0", cfg.Generator.Version)
	assert.Equal(t, PackerExternal, cfg.Generator.Packer)
	assert.Equal(t, 120, cfg.Generator.MaxVariant)
	assert.Equal(t, []string{"bardfollower"}, cfg.Generator.Companions["bard"])
	assert.Equal(t, 500*time.Millisecond, cfg.Overlay.GracePeriod)
	assert.Equal(t, 2*time.Second, cfg.Overlay.StopTimeout)
	assert.Equal(t, 4096, cfg.Overlay.LogSize)
	assert.Equal(t, 500, cfg.Overlay.MessageLimit)
	require.NoError(t, cfg.Validate())

	strategy, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, descriptor.StrategyAuto, strategy)
}

func TestLoad(t *testing.T) {
	t.Run("RequiresEnv", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SKINTOOLS_CONFIG environment variable not set")
	})

	t.Run("FromEnv", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "skintools.yaml")
		require.NoError(t, os.WriteFile(p, []byte("paths:\n  game: /games/rift\n"), 0o644))
		t.Setenv(EnvVar, p)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "/games/rift", cfg.Paths.Game)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestParse(t *testing.T) {
	t.Run("Merge", func(t *testing.T) {
		cfg, err := Parse([]byte(`
paths:
  game: /games/rift
  output: /srv/packages
generator:
  author: Someone
  packer: zstd
  patch_strategy: hash-only
  max_variant: 60
  companions:
    lux: [luxspirit]
overlay:
  profile: test
  grace_period: 250ms
  stop_timeout: 5s
catalog:
  file: /srv/catalog.yaml
`))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "/srv/packages", cfg.Paths.Output)
		assert.Equal(t, "Someone", cfg.Generator.Author)
		assert.Equal(t, "1.0.0", cfg.Generator.Version)
		assert.Equal(t, PackerZstd, cfg.Generator.Packer)
		assert.Equal(t, 60, cfg.Generator.MaxVariant)
		assert.Equal(t, []string{"luxspirit"}, cfg.Generator.Companions["lux"])
		assert.Equal(t, []string{"youmus"}, cfg.Generator.Companions["kindred"])
		assert.Equal(t, 250*time.Millisecond, cfg.Overlay.GracePeriod)
		assert.Equal(t, 5*time.Second, cfg.Overlay.StopTimeout)
		assert.Equal(t, time.Minute, cfg.Overlay.MergeTimeout)
		assert.Equal(t, "/srv/catalog.yaml", cfg.Catalog.File)

		strategy, err := cfg.Strategy()
		require.NoError(t, err)
		assert.Equal(t, descriptor.StrategyHashOnly, strategy)
	})

	t.Run("Empty", func(t *testing.T) {
		cfg, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		_, err := Parse([]byte("generator:\n  packr: zstd\n"))
		assert.Error(t, err)
	})

	t.Run("BadDuration", func(t *testing.T) {
		_, err := Parse([]byte("overlay:\n  grace_period: soon\n"))
		assert.Error(t, err)
	})
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("RIFT_GAME", "/games/rift")
	t.Setenv("SKINTOOLS_UNSET", "")

	cfg, err := Parse([]byte(`
paths:
  game: ${RIFT_GAME}/Game
  output: ${HOME}/packages
  cache: ${SKINTOOLS_UNSET:-/tmp/overlay}
catalog:
  file: ${HOME}/catalog.yaml
`))
	require.NoError(t, err)

	assert.Equal(t, "/games/rift/Game", cfg.Paths.Game)
	assert.Equal(t, "/home/tester/packages", cfg.Paths.Output)
	assert.Equal(t, "/tmp/overlay", cfg.Paths.Cache)
	assert.Equal(t, "/home/tester/catalog.yaml", cfg.Catalog.File)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Generator.Packer = "wadmake"
	cfg.Generator.PatchStrategy = "rewrite-everything"
	cfg.Generator.MaxVariant = 0
	cfg.Overlay.Profile = ""
	cfg.Overlay.StopTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"generator.packer",
		"generator.patch_strategy",
		"generator.max_variant",
		"overlay.profile",
		"overlay.stop_timeout",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.Hashes = "/srv/hashes"
	cfg.Paths.Cache = "/srv/overlay"
	cfg.Paths.Game = "/games/rift"

	assert.Equal(t, filepath.Join("/srv/hashes", "hashes.game.txt"), cfg.GameHashesPath())
	assert.Equal(t, filepath.Join("/srv/hashes", "hashes.binentries.txt"), cfg.EntryHashesPath())

	oc := cfg.OverlaySettings()
	assert.Equal(t, "/srv/overlay", oc.Root)
	assert.Equal(t, "/games/rift", oc.GameDir)
	assert.Equal(t, overlay.DefaultProfile, oc.Profile)
	assert.Equal(t, overlay.DefaultGracePeriod, oc.GracePeriod)
}

func TestEnsurePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.Output = filepath.Join(dir, "out")
	cfg.Paths.Cache = filepath.Join(dir, "cache")

	require.NoError(t, cfg.EnsurePaths())
	assert.DirExists(t, cfg.Paths.Output)
	assert.DirExists(t, cfg.Paths.Cache)
}
