package descriptor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/riftchanger/skintools/pkg/hashdict"
	"github.com/riftchanger/skintools/pkg/hashing"
)

var variantPattern = regexp.MustCompile(`(?i)skin(\d+)`)

// RewriteVariant replaces the number of every "skin<variant>" in s that is
// not followed by another digit with 0, keeping the original case of
// "skin". It reports whether anything changed.
func RewriteVariant(s string, variant int) (string, bool) {
	want := strconv.Itoa(variant)
	changed := false
	out := variantPattern.ReplaceAllStringFunc(s, func(m string) string {
		if m[4:] != want {
			return m
		}
		changed = true
		return m[:4] + "0"
	})
	return out, changed
}

// Substitutions maps old 32-bit hashes to their variant-0 replacements.
type Substitutions map[uint32]uint32

func (s Substitutions) add(from, to string) {
	old, repl := hashing.Hash32(from), hashing.Hash32(to)
	if old != repl {
		s[old] = repl
	}
}

// BuildSubstitutions returns the substitution map for variant across every
// subject. When dict is non-empty each of its paths that mentions the variant
// is mapped too, keyed by the dictionary's own hash.
func BuildSubstitutions(variant int, subjects []string, dict *hashdict.Dictionary) Substitutions {
	subs := make(Substitutions)
	if variant == 0 {
		return subs
	}

	needle := "kin" + strconv.Itoa(variant)
	for hash, p := range dict.All() {
		lower := strings.ToLower(p)
		if !strings.Contains(lower, needle) {
			continue
		}
		if rewritten, ok := RewriteVariant(lower, variant); ok {
			if repl := hashing.Hash32(rewritten); uint32(hash) != repl {
				subs[uint32(hash)] = repl
			}
		}
	}

	n := strconv.Itoa(variant)
	for _, subject := range subjects {
		s := strings.ToLower(subject)
		subs.add("characters/"+s+"/skins/skin"+n, "characters/"+s+"/skins/skin0")
		subs.add("characters/"+s+"/animations/skin"+n, "characters/"+s+"/animations/skin0")
		subs.add("characters/"+s+"/skins/skin"+n+"/resources", "characters/"+s+"/skins/skin0/resources")
	}

	return subs
}
