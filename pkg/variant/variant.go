// Package variant discovers variants present in a source archive that the
// catalog does not document, and names them.
package variant

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/riftchanger/skintools/pkg/catalog"
)

// Undocumented is a variant found in the archive but absent from the
// catalog.
type Undocumented struct {
	Number int
	// Parent is the nearest lower catalog variant flagged with
	// HasUndocumentedSupport, or nil.
	Parent *catalog.Variant
}

// Discover returns the variants in found that the catalog does not list,
// excluding 0, in ascending order, each with its inferred parent. The result
// does not depend on the order of either input.
func Discover(documented []catalog.Variant, found []int) []Undocumented {
	known := make(map[int]struct{}, len(documented))
	for _, v := range documented {
		known[v.Number] = struct{}{}
	}

	parents := make([]catalog.Variant, 0, len(documented))
	for _, v := range documented {
		if v.HasUndocumentedSupport {
			parents = append(parents, v)
		}
	}
	slices.SortStableFunc(parents, func(a, b catalog.Variant) int { return a.Number - b.Number })

	numbers := slices.Clone(found)
	slices.Sort(numbers)
	numbers = slices.Compact(numbers)

	var out []Undocumented
	for _, n := range numbers {
		if n == 0 {
			continue
		}
		if _, ok := known[n]; ok {
			continue
		}
		u := Undocumented{Number: n}
		for i := len(parents) - 1; i >= 0; i-- {
			if parents[i].Number < n {
				p := parents[i]
				u.Parent = &p
				break
			}
		}
		out = append(out, u)
	}
	return out
}

// DisplayName returns the package name of a documented variant. The
// catalog's placeholder name "default" becomes "<subject> Default".
func DisplayName(subject catalog.Subject, v catalog.Variant) string {
	if v.Name == "" || strings.EqualFold(v.Name, "default") {
		return subjectName(subject) + " Default"
	}
	return v.Name
}

// Name returns the package name of an undocumented variant:
// "<parent name> <n>" when it has a parent, else "<subject> Chroma <n>".
func (u Undocumented) Name(subject catalog.Subject) string {
	if u.Parent != nil {
		return DisplayName(subject, *u.Parent) + " " + strconv.Itoa(u.Number)
	}
	return subjectName(subject) + " Chroma " + strconv.Itoa(u.Number)
}

func subjectName(s catalog.Subject) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

var (
	descriptorPath = regexp.MustCompile(`^data/characters/([^/]+)/skins/skin(\d+)\.bin$`)
	subjectPath    = regexp.MustCompile(`^data/characters/([^/]+)/`)
)

// DescriptorPath returns the record path of a subject's variant descriptor.
func DescriptorPath(subject string, n int) string {
	return "data/characters/" + strings.ToLower(subject) + "/skins/skin" + strconv.Itoa(n) + ".bin"
}

// ParseDescriptorPath extracts the subject and variant from a descriptor
// record path.
func ParseDescriptorPath(p string) (subject string, n int, ok bool) {
	m := descriptorPath.FindStringSubmatch(strings.ToLower(p))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// Numbers returns the sorted, distinct variant numbers that have a
// descriptor for subject among paths.
func Numbers(paths []string, subject string) []int {
	subject = strings.ToLower(subject)
	var out []int
	for _, p := range paths {
		if s, n, ok := ParseDescriptorPath(p); ok && s == subject {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Subjects returns the sorted, distinct subject ids under data/characters/.
func Subjects(paths []string) []string {
	var out []string
	for _, p := range paths {
		if m := subjectPath.FindStringSubmatch(strings.ToLower(p)); m != nil {
			out = append(out, m[1])
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
