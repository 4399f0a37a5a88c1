// Package modpkg reads and writes mod packages: a zip holding META/info.json
// and one rewritten archive under WAD/.
package modpkg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/riftchanger/skintools/pkg/archive"
)

const (
	// InfoPath is the zip path of the metadata record.
	InfoPath = "META/info.json"
	// ArchiveDir is the zip directory holding the archive.
	ArchiveDir = "WAD"
	// ArchiveSuffix is the file suffix of game archives.
	ArchiveSuffix = ".wad.client"
)

// ErrInvalidPackage is returned for zips that are not well-formed packages.
var ErrInvalidPackage = errors.New("invalid mod package")

// modTime is stamped on every zip entry so identical inputs produce
// identical packages.
var modTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Metadata is the package metadata record.
type Metadata struct {
	Author      string `json:"Author"`
	Description string `json:"Description"`
	Name        string `json:"Name"`
	Version     string `json:"Version"`
}

// Package is a decoded mod package.
type Package struct {
	Metadata Metadata
	Subject  string // archive base name, e.g. "Ahri" for WAD/Ahri.wad.client
	Archive  []byte
}

// ArchivePath returns the zip path of the package's archive.
func (p *Package) ArchivePath() string {
	return ArchiveDir + "/" + p.Subject + ArchiveSuffix
}

// Encode serialises the package to zip bytes.
func Encode(p *Package) ([]byte, error) {
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidPackage)
	}

	info, err := json.MarshalIndent(p.Metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{InfoPath, info},
		{p.ArchivePath(), p.Archive},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: modTime,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Write encodes p and stores it at dest through a temporary file in the same
// directory, so readers never observe a partial package.
func Write(dest string, p *Package) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".modpkg-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing package: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Rename over an existing file fails on Windows.
	if runtime.GOOS == "windows" {
		_ = os.Remove(dest)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming to destination: %w", err)
	}

	success = true
	return nil
}

// Decode parses and validates a package from r.
func Decode(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPackage, err)
	}

	var (
		p       Package
		hasInfo bool
		hasWAD  bool
	)
	for _, f := range zr.File {
		name := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		switch {
		case strings.EqualFold(name, InfoPath):
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &p.Metadata); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPackage, InfoPath, err)
			}
			hasInfo = true

		case path.Dir(name) == ArchiveDir && strings.HasSuffix(strings.ToLower(name), ArchiveSuffix):
			if hasWAD {
				return nil, fmt.Errorf("%w: more than one archive", ErrInvalidPackage)
			}
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			base := path.Base(name)
			p.Subject = base[:len(base)-len(ArchiveSuffix)]
			p.Archive = data
			hasWAD = true
		}
	}

	if !hasInfo {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPackage, InfoPath)
	}
	if !hasWAD {
		return nil, fmt.Errorf("%w: missing %s/*%s", ErrInvalidPackage, ArchiveDir, ArchiveSuffix)
	}
	if p.Metadata.Name == "" {
		return nil, fmt.Errorf("%w: metadata has no name", ErrInvalidPackage)
	}
	return &p, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrInvalidPackage, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidPackage, f.Name, err)
	}
	return data, nil
}

// Read loads and validates the package at path.
func Read(p string) (*Package, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	pkg, err := Decode(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return pkg, nil
}

// Extract validates the package at src and unpacks it into dir, which ends
// up holding META/info.json and WAD/<Subject>.wad.client. The archive itself
// is checked to parse.
func Extract(src, dir string) (*Package, error) {
	pkg, err := Read(src)
	if err != nil {
		return nil, err
	}
	if _, err := archive.Unpack(pkg.Archive); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPackage, pkg.ArchivePath(), err)
	}

	info, err := json.MarshalIndent(pkg.Metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	for _, f := range []struct {
		name string
		data []byte
	}{
		{InfoPath, info},
		{pkg.ArchivePath(), pkg.Archive},
	} {
		target, err := archive.SafeJoin(dir, f.name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPackage, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
		if err := os.WriteFile(target, f.data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return pkg, nil
}
