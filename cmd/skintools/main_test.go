package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftchanger/skintools/pkg/config"
	"github.com/riftchanger/skintools/pkg/hashing"
)

const skin0 = "data/characters/ahri/skins/skin0.bin"

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.EnvVar, "")
	return home
}

func TestRun_Validation(t *testing.T) {
	isolate(t)

	t.Run("MissingMode", func(t *testing.T) {
		err := run(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--mode is required")
	})

	t.Run("UnknownMode", func(t *testing.T) {
		err := run([]string{"--mode", "explode"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown mode "explode"`)
	})

	t.Run("BadPacker", func(t *testing.T) {
		err := run([]string{"--mode", "build", "--packer", "wadmake"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generator.packer")
	})

	t.Run("ExtractNeedsInput", func(t *testing.T) {
		err := run([]string{"--mode", "extract"})
		assert.EqualError(t, err, "extract mode requires --input and --output")
	})

	t.Run("GenerateNeedsCatalog", func(t *testing.T) {
		err := run([]string{"--mode", "generate", "--subject", "Ahri", "--variant", "1", "--game", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog.file is required")
	})

	t.Run("GenerateAllWithoutSubject", func(t *testing.T) {
		err := run([]string{"--mode", "generate-all", "--game", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog.file is required")
		assert.NotContains(t, err.Error(), "--subject")
	})

	t.Run("ApplyNeedsPackages", func(t *testing.T) {
		err := run([]string{"--mode", "apply"})
		assert.Error(t, err)
	})
}

func TestRun_BuildExtract(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "data", "characters", "ahri", "skins"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, filepath.FromSlash(skin0)), []byte("PROP skin0"), 0o644))

	wad := filepath.Join(dir, "Ahri.wad.client")
	require.NoError(t, run([]string{"--mode", "build", "--packer", "zstd", "-i", src, "-o", wad}))
	require.FileExists(t, wad)

	out := filepath.Join(dir, "out")
	require.NoError(t, run([]string{"--mode", "extract", "-i", wad, "-o", out, "--verify"}))

	// No dictionary is configured, so the record is named by hash.
	data, err := os.ReadFile(filepath.Join(out, hashing.Format64(hashing.Hash64(skin0))+".bin"))
	require.NoError(t, err)
	assert.Equal(t, "PROP skin0", string(data))

	t.Run("RefusesNonEmptyOutput", func(t *testing.T) {
		err := run([]string{"--mode", "extract", "-i", wad, "-o", out})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not empty")
	})
}

func TestRunHash(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runHash(&options{args: []string{skin0}}, &buf))

	fields := strings.Fields(buf.String())
	require.Len(t, fields, 3)
	assert.Equal(t, hashing.Format32(hashing.Hash32(skin0)), fields[0])
	assert.Equal(t, hashing.Format64(hashing.Hash64(skin0)), fields[1])
	assert.Equal(t, skin0, fields[2])

	t.Run("Reverse", func(t *testing.T) {
		dicts := t.TempDir()
		h := hashing.Format64(hashing.Hash64(skin0))
		require.NoError(t, os.WriteFile(filepath.Join(dicts, "hashes.game.txt"), []byte(h+" "+skin0+"\n"), 0o644))

		var buf bytes.Buffer
		require.NoError(t, runHash(&options{input: dicts, args: []string{h, "0123456789abcdef", "deadbeef"}}, &buf))
		assert.Equal(t, h+"  "+skin0+"\n0123456789abcdef  (unknown)\ndeadbeef  (unknown)\n", buf.String())
	})

	t.Run("NoArgs", func(t *testing.T) {
		assert.Error(t, runHash(&options{}, &bytes.Buffer{}))
	})
}
