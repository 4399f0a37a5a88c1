package descriptor

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftchanger/skintools/pkg/hashdict"
	"github.com/riftchanger/skintools/pkg/hashing"
)

func propHeader(version uint32) []byte {
	buf := append([]byte{}, MagicProp[:]...)
	return binary.LittleEndian.AppendUint32(buf, version)
}

func withLinked(version uint32, strs ...string) []byte {
	buf := propHeader(version)
	table, err := encodeLinkedTable(strs)
	if err != nil {
		panic(err)
	}
	return append(buf, table...)
}

func putHash(buf []byte, off int, path string) {
	binary.LittleEndian.PutUint32(buf[off:], hashing.Hash32(path))
}

func TestParse(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		info, err := Parse(append(propHeader(1), 0, 0, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, "PROP", info.Magic)
		assert.Equal(t, uint32(1), info.Version)
		assert.False(t, info.Patch)
		assert.False(t, info.HasLinkedTable())
		assert.Equal(t, 8, info.TableStart)
		assert.Equal(t, 8, info.TableEnd)
	})

	t.Run("PatchPreambleAndLinkedTable", func(t *testing.T) {
		data := append([]byte("PTCH"), make([]byte, 8)...)
		data = append(data, withLinked(3, "DATA/A.bin", "DATA/Characters/Foo/Foo.bin")...)
		data = append(data, 0xde, 0xad)

		info, err := Parse(data)
		require.NoError(t, err)
		assert.True(t, info.Patch)
		assert.Equal(t, uint32(3), info.Version)
		assert.Equal(t, []string{"DATA/A.bin", "DATA/Characters/Foo/Foo.bin"}, info.LinkedStrings)
		assert.Equal(t, 20, info.TableStart)
		assert.Equal(t, len(data)-2, info.TableEnd)
	})

	t.Run("Unrecognized", func(t *testing.T) {
		cases := map[string][]byte{
			"Empty":          nil,
			"BadMagic":       []byte("XXXX\x01\x00\x00\x00"),
			"ShortVersion":   []byte("PROP\x01"),
			"ShortPreamble":  []byte("PTCH\x00"),
			"MissingCount":   propHeader(2),
			"CountTooLarge":  binary.LittleEndian.AppendUint32(propHeader(2), 1000),
			"TruncatedEntry": append(binary.LittleEndian.AppendUint32(propHeader(2), 1), 10, 0, 'a'),
		}
		for name, data := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := Parse(data)
				require.ErrorIs(t, err, ErrFormatUnrecognized)
			})
		}
	})
}

func TestRewriteVariant(t *testing.T) {
	cases := []struct {
		in      string
		variant int
		want    string
		changed bool
	}{
		{"characters/foo/skins/skin3", 3, "characters/foo/skins/skin0", true},
		{"Characters/Foo/Skins/Skin3/Resources", 3, "Characters/Foo/Skins/Skin0/Resources", true},
		{"ASSETS/Characters/Foo/Skins/Skin3/Foo_Skin3_TX.dds", 3, "ASSETS/Characters/Foo/Skins/Skin0/Foo_Skin0_TX.dds", true},
		{"SKINS/SKIN3", 3, "SKINS/SKIN0", true},
		{"characters/foo/skins/skin31", 3, "characters/foo/skins/skin31", false},
		{"characters/foo/skins/skin13", 3, "characters/foo/skins/skin13", false},
		{"skin12_skin12.bin", 12, "skin0_skin0.bin", true},
		{"characters/foo/foo.bin", 3, "characters/foo/foo.bin", false},
	}
	for _, tc := range cases {
		got, changed := RewriteVariant(tc.in, tc.variant)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.changed, changed, tc.in)
	}
}

func TestBuildSubstitutions(t *testing.T) {
	t.Run("CorePatternsPerSubject", func(t *testing.T) {
		subs := BuildSubstitutions(3, []string{"Foo", "foopet"}, nil)
		assert.Len(t, subs, 6)
		for _, s := range []string{"foo", "foopet"} {
			assert.Equal(t, hashing.Hash32("characters/"+s+"/skins/skin0"), subs[hashing.Hash32("characters/"+s+"/skins/skin3")])
			assert.Equal(t, hashing.Hash32("characters/"+s+"/animations/skin0"), subs[hashing.Hash32("characters/"+s+"/animations/skin3")])
			assert.Equal(t, hashing.Hash32("characters/"+s+"/skins/skin0/resources"), subs[hashing.Hash32("characters/"+s+"/skins/skin3/resources")])
		}
	})

	t.Run("VariantZeroIsEmpty", func(t *testing.T) {
		assert.Empty(t, BuildSubstitutions(0, []string{"foo"}, nil))
	})

	t.Run("Dictionary", func(t *testing.T) {
		dict := hashdict.New(32)
		particle := "Characters/Foo/Skins/Skin3/Particles/Foo_Skin3_Q"
		dict.Add(uint64(hashing.Hash32(particle)), particle)
		dict.Add(uint64(hashing.Hash32("characters/foo/skins/skin31")), "characters/foo/skins/skin31")
		dict.Add(0x1234, "characters/bar/bar.bin")

		subs := BuildSubstitutions(3, nil, dict)
		require.Len(t, subs, 1)
		assert.Equal(t,
			hashing.Hash32("characters/foo/skins/skin0/particles/foo_skin0_q"),
			subs[hashing.Hash32(particle)])
	})
}

func TestSubstitutionsApply(t *testing.T) {
	t.Run("NoCascade", func(t *testing.T) {
		subs := Substitutions{1: 2, 2: 3}
		out, hits := subs.Apply([]byte{1, 0, 0, 0, 9})
		assert.Equal(t, []byte{2, 0, 0, 0, 9}, out)
		assert.Equal(t, 1, hits)
	})

	t.Run("ReadsOriginal", func(t *testing.T) {
		subs := Substitutions{1: 2, 2: 3}
		out, hits := subs.Apply([]byte{1, 0, 0, 0, 2, 0, 0, 0})
		assert.Equal(t, []byte{2, 0, 0, 0, 3, 0, 0, 0}, out)
		assert.Equal(t, 2, hits)
	})

	t.Run("Unaligned", func(t *testing.T) {
		subs := Substitutions{0xaabbccdd: 0x11223344}
		out, hits := subs.Apply([]byte{0, 0, 0xdd, 0xcc, 0xbb, 0xaa, 0})
		assert.Equal(t, []byte{0, 0, 0x44, 0x33, 0x22, 0x11, 0}, out)
		assert.Equal(t, 1, hits)
	})

	t.Run("HitConsumesFourBytes", func(t *testing.T) {
		// 0x05040302 starts one byte into the first key and is never seen.
		subs := Substitutions{0x04030201: 0x0a0a0a0a, 0x05040302: 0x0b0b0b0b}
		out, hits := subs.Apply([]byte{1, 2, 3, 4, 5})
		assert.Equal(t, []byte{0x0a, 0x0a, 0x0a, 0x0a, 5}, out)
		assert.Equal(t, 1, hits)

		// Without the earlier hit the overlapping key matches.
		out, hits = subs.Apply([]byte{0, 2, 3, 4, 5})
		assert.Equal(t, []byte{0, 0x0b, 0x0b, 0x0b, 0x0b}, out)
		assert.Equal(t, 1, hits)
	})

	t.Run("InputUntouched", func(t *testing.T) {
		in := []byte{1, 0, 0, 0}
		_, _ = Substitutions{1: 2}.Apply(in)
		assert.Equal(t, []byte{1, 0, 0, 0}, in)
	})
}

func TestPatch(t *testing.T) {
	t.Run("Locality", func(t *testing.T) {
		in := make([]byte, 64)
		copy(in, propHeader(1))
		putHash(in, 20, "characters/foo/skins/skin3")

		res, err := NewPatcher().Patch(in, 3, []string{"foo"})
		require.NoError(t, err)
		assert.Equal(t, StrategyHashOnly, res.Strategy)
		assert.Equal(t, 1, res.Hashes)
		require.Len(t, res.Data, 64)

		want := hashing.Hash32("characters/foo/skins/skin0")
		for i := range in {
			if i >= 20 && i < 24 {
				continue
			}
			assert.Equal(t, in[i], res.Data[i], "byte %d", i)
		}
		assert.Equal(t, want, binary.LittleEndian.Uint32(res.Data[20:24]))
		assert.Equal(t, hashing.Hash32("characters/foo/skins/skin3"), binary.LittleEndian.Uint32(in[20:24]))
	})

	t.Run("Companions", func(t *testing.T) {
		in := make([]byte, 48)
		copy(in, propHeader(1))
		putHash(in, 13, "characters/foo/animations/skin7")
		putHash(in, 30, "characters/foopet/skins/skin7/resources")

		res, err := NewPatcher(WithStrategy(StrategyHashOnly)).Patch(in, 7, []string{"foo", "foopet"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Hashes)
		assert.Equal(t, hashing.Hash32("characters/foo/animations/skin0"), binary.LittleEndian.Uint32(res.Data[13:]))
		assert.Equal(t, hashing.Hash32("characters/foopet/skins/skin0/resources"), binary.LittleEndian.Uint32(res.Data[30:]))
	})

	t.Run("LinkedStrings", func(t *testing.T) {
		in := withLinked(3, "DATA/Characters/Foo/Skins/Skin3.bin", "DATA/Characters/Foo/Foo.bin")
		tableEnd := len(in)
		body := make([]byte, 16)
		putHash(body, 4, "characters/foo/skins/skin3")
		in = append(in, body...)

		res, err := NewPatcher().Patch(in, 3, []string{"foo"})
		require.NoError(t, err)
		assert.Equal(t, StrategyLinkedStrings, res.Strategy)
		assert.Equal(t, 1, res.Strings)
		assert.Equal(t, 1, res.Hashes)

		info, err := Parse(res.Data)
		require.NoError(t, err)
		assert.Equal(t, []string{"DATA/Characters/Foo/Skins/Skin0.bin", "DATA/Characters/Foo/Foo.bin"}, info.LinkedStrings)
		assert.Equal(t, in[:8], res.Data[:8])

		outBody := res.Data[info.TableEnd:]
		require.Len(t, outBody, len(in)-tableEnd)
		assert.Equal(t, hashing.Hash32("characters/foo/skins/skin0"), binary.LittleEndian.Uint32(outBody[4:]))
	})

	t.Run("DictionaryPrefersHashOnly", func(t *testing.T) {
		dict := hashdict.New(32)
		dict.Add(0x42, "characters/foo/skins/skin3/x")
		in := withLinked(3, "DATA/Characters/Foo/Skins/Skin3.bin")

		res, err := NewPatcher(WithDictionary(dict)).Patch(in, 3, []string{"foo"})
		require.NoError(t, err)
		assert.Equal(t, StrategyHashOnly, res.Strategy)
		assert.Equal(t, in, res.Data)
	})

	t.Run("MixedStrategyRejected", func(t *testing.T) {
		dict := hashdict.New(32)
		dict.Add(0x42, "characters/foo/skins/skin3/x")
		in := withLinked(3, "DATA/Characters/Foo/Skins/Skin3.bin")

		res, err := NewPatcher(WithDictionary(dict), WithStrategy(StrategyLinkedStrings)).Patch(in, 3, []string{"foo"})
		require.ErrorIs(t, err, ErrMixedStrategy)
		assert.Equal(t, in, res.Data)
	})

	t.Run("Unrecognized", func(t *testing.T) {
		in := []byte("not a descriptor at all")
		res, err := NewPatcher().Patch(in, 3, []string{"foo"})
		require.ErrorIs(t, err, ErrFormatUnrecognized)
		assert.True(t, bytes.Equal(in, res.Data))
	})

	t.Run("Verbatim", func(t *testing.T) {
		in := make([]byte, 32)
		copy(in, propHeader(1))
		putHash(in, 12, "characters/foo/skins/skin3")

		res, err := NewPatcher(WithStrategy(StrategyVerbatim)).Patch(in, 3, []string{"foo"})
		require.NoError(t, err)
		assert.Equal(t, in, res.Data)
		assert.Zero(t, res.Hashes)
	})
}

func TestParseStrategy(t *testing.T) {
	for s, name := range strategyNames {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, name, s.String())
	}
	_, err := ParseStrategy("strings-and-hashes")
	require.Error(t, err)
}

func BenchmarkPatch(b *testing.B) {
	data := make([]byte, 256*1024)
	copy(data, propHeader(1))
	for off := 100; off+4 < len(data); off += 4096 {
		putHash(data, off, "characters/foo/skins/skin3")
	}
	p := NewPatcher(WithStrategy(StrategyHashOnly))
	subjects := []string{"foo", "foopet"}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := p.Patch(data, 3, subjects); err != nil {
			b.Fatal(err)
		}
	}
}
