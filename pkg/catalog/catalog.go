// Package catalog describes the public list of subjects and their documented
// variants. The catalog is read-only; the engine never writes to it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultImageURL is the image template used when a catalog file names none.
const DefaultImageURL = "https://ddragon.leagueoflegends.com/cdn/img/champion/splash/{subject}_{variant}.jpg"

// ErrSubjectNotFound is returned for subject ids the catalog does not know.
var ErrSubjectNotFound = errors.New("subject not found")

// Subject is one playable entity.
type Subject struct {
	ID   string   `yaml:"id"`   // archive name, e.g. "Ahri"
	Key  string   `yaml:"key"`  // numeric catalog key, e.g. "103"
	Name string   `yaml:"name"` // display name
	Tags []string `yaml:"tags"` // roles, e.g. ["Mage", "Assassin"]
}

// Variant is one documented cosmetic variant of a subject.
type Variant struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
	// HasUndocumentedSupport marks variants that own undocumented
	// (chroma) variants numbered above them.
	HasUndocumentedSupport bool `yaml:"chromas"`
}

// Catalog is the read-only boundary to the subject/variant catalog.
type Catalog interface {
	Subjects(ctx context.Context) ([]Subject, error)
	Subject(ctx context.Context, id string) (Subject, error)
	Variants(ctx context.Context, subjectID string) ([]Variant, error)
	ImageURL(subjectID string, variant int) string
}

// Static is an in-memory catalog.
type Static struct {
	subjects []Subject
	variants map[string][]Variant
	imageURL string
}

// NewStatic creates a catalog from subjects and their variants, keyed by
// subject id.
func NewStatic(subjects []Subject, variants map[string][]Variant) *Static {
	s := &Static{
		subjects: slices.Clone(subjects),
		variants: make(map[string][]Variant, len(variants)),
		imageURL: DefaultImageURL,
	}
	slices.SortFunc(s.subjects, func(a, b Subject) int { return strings.Compare(a.ID, b.ID) })
	for id, vs := range variants {
		vs = slices.Clone(vs)
		slices.SortStableFunc(vs, func(a, b Variant) int { return a.Number - b.Number })
		s.variants[strings.ToLower(id)] = vs
	}
	return s
}

func (s *Static) Subjects(ctx context.Context) ([]Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s.subjects), nil
}

func (s *Static) Subject(ctx context.Context, id string) (Subject, error) {
	if err := ctx.Err(); err != nil {
		return Subject{}, err
	}
	for _, sub := range s.subjects {
		if strings.EqualFold(sub.ID, id) {
			return sub, nil
		}
	}
	return Subject{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
}

// Variants returns the subject's documented variants in ascending order.
func (s *Static) Variants(ctx context.Context, subjectID string) ([]Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vs, ok := s.variants[strings.ToLower(subjectID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	return slices.Clone(vs), nil
}

// ImageURL expands the catalog's image template for a subject variant.
func (s *Static) ImageURL(subjectID string, variant int) string {
	return strings.NewReplacer(
		"{subject}", subjectID,
		"{variant}", strconv.Itoa(variant),
	).Replace(s.imageURL)
}

// file is the on-disk YAML snapshot.
type file struct {
	ImageURL string `yaml:"image_url"`
	Subjects []struct {
		Subject  `yaml:",inline"`
		Variants []Variant `yaml:"variants"`
	} `yaml:"subjects"`
}

// Load decodes a YAML catalog snapshot:
//
//	image_url: https://example.invalid/{subject}_{variant}.jpg
//	subjects:
//	  - id: Ahri
//	    key: "103"
//	    name: Ahri
//	    tags: [Mage, Assassin]
//	    variants:
//	      - {number: 0, name: default}
//	      - {number: 1, name: Dynasty Ahri, chromas: true}
func Load(r io.Reader) (*Static, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	subjects := make([]Subject, 0, len(f.Subjects))
	variants := make(map[string][]Variant, len(f.Subjects))
	for _, entry := range f.Subjects {
		if entry.ID == "" {
			return nil, fmt.Errorf("parse catalog: subject without id")
		}
		if entry.Name == "" {
			entry.Name = entry.ID
		}
		if _, dup := variants[strings.ToLower(entry.ID)]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate subject %s", entry.ID)
		}
		subjects = append(subjects, entry.Subject)
		variants[strings.ToLower(entry.ID)] = entry.Variants
	}

	s := NewStatic(subjects, variants)
	if f.ImageURL != "" {
		s.imageURL = f.ImageURL
	}
	return s, nil
}

// LoadFile reads a YAML catalog snapshot from path.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
