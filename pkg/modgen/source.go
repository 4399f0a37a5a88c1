package modgen

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/riftchanger/skintools/pkg/archive"
	"github.com/riftchanger/skintools/pkg/hashdict"
	"github.com/riftchanger/skintools/pkg/hashing"
	"github.com/riftchanger/skintools/pkg/modpkg"
	"github.com/riftchanger/skintools/pkg/variant"
)

// DefaultMaxVariant bounds the variant numbers tried when no game
// dictionary is available.
const DefaultMaxVariant = 120

// DefaultCompanions lists subjects whose archives also carry companion
// subjects that must be patched in lock-step.
var DefaultCompanions = map[string][]string{
	"bard":    {"bardfollower"},
	"kindred": {"youmus"},
	"quinn":   {"quinnvalor"},
	"nunu":    {"willump"},
}

// SourceLocator finds a subject's source archive inside a game install.
type SourceLocator struct {
	GameDir string
}

// Path returns <game>/DATA/FINAL/Champions/<subject>.wad.client.
func (l SourceLocator) Path(subject string) string {
	return filepath.Join(l.GameDir, "DATA", "FINAL", "Champions", subject+modpkg.ArchiveSuffix)
}

// Open parses the subject's source archive.
func (l SourceLocator) Open(subject string) (*archive.Archive, error) {
	p := l.Path(subject)
	a, err := archive.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceArchiveMissing, p)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Resolver names the records of a source archive. Record paths come from
// the game dictionary when one is loaded, plus generated descriptor paths
// for the subject and its companions.
type Resolver struct {
	dict       *hashdict.Dictionary
	maxVariant int
	companions map[string][]string
}

// NewResolver creates a resolver. dict may be nil.
func NewResolver(dict *hashdict.Dictionary, maxVariant int, companions map[string][]string) *Resolver {
	if maxVariant <= 0 {
		maxVariant = DefaultMaxVariant
	}
	norm := make(map[string][]string, len(companions))
	for k, v := range companions {
		norm[strings.ToLower(k)] = v
	}
	return &Resolver{dict: dict, maxVariant: maxVariant, companions: norm}
}

// Candidates returns the subject followed by its configured companions,
// lowercased.
func (r *Resolver) Candidates(subject string) []string {
	s := strings.ToLower(subject)
	out := []string{s}
	for _, c := range r.companions[s] {
		out = append(out, strings.ToLower(c))
	}
	return out
}

// Resolve maps every record of a that can be named to its path.
func (r *Resolver) Resolve(a *archive.Archive, subject string) map[uint64]string {
	paths := make(map[uint64]string)
	for _, rec := range a.Records() {
		if p, ok := r.dict.Lookup(rec.PathHash); ok {
			paths[rec.PathHash] = strings.ToLower(p)
		}
	}
	for _, s := range r.Candidates(subject) {
		for n := 0; n <= r.maxVariant; n++ {
			p := variant.DescriptorPath(s, n)
			h := hashing.Hash64(p)
			if _, ok := a.Lookup(h); ok {
				paths[h] = p
			}
		}
	}
	return paths
}

// source is a parsed source archive with its resolved record paths.
type source struct {
	subject string
	archive *archive.Archive
	paths   []string
	// subjects are every subject with records in the archive, primary first.
	subjects []string
}

func (s *source) descriptor(subject string, n int) (archive.Record, bool) {
	return s.archive.Lookup(hashing.Hash64(variant.DescriptorPath(subject, n)))
}

func newSource(subject string, a *archive.Archive, resolved map[uint64]string) *source {
	paths := make([]string, 0, len(resolved))
	for _, p := range resolved {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	primary := strings.ToLower(subject)
	subjects := []string{primary}
	for _, s := range variant.Subjects(paths) {
		if s != primary {
			subjects = append(subjects, s)
		}
	}
	return &source{subject: subject, archive: a, paths: paths, subjects: subjects}
}
