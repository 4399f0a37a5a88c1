package modpkg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// PackageExt is the file extension of mod packages.
	PackageExt = ".zip"
	// ChromaDir holds undocumented variants, one subdirectory per parent.
	ChromaDir = "chromas"
)

var unsafeChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_",
	`\`, "_", "|", "_", "?", "_", "*", "_",
)

// Sanitize replaces characters that are not allowed in file names.
func Sanitize(name string) string {
	return unsafeChars.Replace(name)
}

// Layout maps (subject, name) pairs to package paths under Root:
//
//	<root>/<subject>/<name>.zip
//	<root>/<subject>/chromas/<parent>/<name>.zip
type Layout struct {
	Root string
}

// Path returns the package path of a documented variant.
func (l Layout) Path(subject, name string) string {
	return filepath.Join(l.Root, Sanitize(subject), Sanitize(name)+PackageExt)
}

// ChromaPath returns the package path of an undocumented variant filed
// under parent.
func (l Layout) ChromaPath(subject, parent, name string) string {
	return filepath.Join(l.Root, Sanitize(subject), ChromaDir, Sanitize(parent), Sanitize(name)+PackageExt)
}

// Installed is a package found on disk by Scan.
type Installed struct {
	Subject string
	Name    string
	Parent  string // empty for documented variants
	Path    string
}

// ID returns the slash-separated identifier of the package relative to the
// layout root, without extension.
func (i Installed) ID() string {
	if i.Parent != "" {
		return i.Subject + "/" + ChromaDir + "/" + i.Parent + "/" + i.Name
	}
	return i.Subject + "/" + i.Name
}

// Resolve maps a package identifier from Installed.ID back to its path.
func (l Layout) Resolve(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: package id %q", ErrInvalidPackage, id)
	}
	return filepath.Join(l.Root, clean+PackageExt), nil
}

// Scan lists every package under Root, sorted by identifier. A missing root
// yields no packages.
func (l Layout) Scan() ([]Installed, error) {
	var out []Installed

	err := filepath.WalkDir(l.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == l.Root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), PackageExt) {
			return nil
		}

		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		name := strings.TrimSuffix(parts[len(parts)-1], filepath.Ext(p))

		switch {
		case len(parts) == 2:
			out = append(out, Installed{Subject: parts[0], Name: name, Path: p})
		case len(parts) == 4 && parts[1] == ChromaDir:
			out = append(out, Installed{Subject: parts[0], Parent: parts[2], Name: name, Path: p})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan packages: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// Exists reports whether a package file is present at p.
func Exists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
