package archive

import (
	"cmp"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/riftchanger/skintools/pkg/hashing"
)

// ScanDir walks a raw asset tree and returns one entry per regular file,
// keyed by its lowercase slash-separated path relative to root. Files named
// by a bare 16-digit hex hash (with or without an extension) are treated as
// pre-hashed records. Entries are returned in walk order.
func ScanDir(root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		rel = strings.ToLower(filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > math.MaxUint32 {
			return fmt.Errorf("file too large: %s (size %d exceeds %d bytes)", p, info.Size(), uint32(math.MaxUint32))
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		if hash, ok := prehashed(rel); ok {
			entries = append(entries, Entry{PathHash: hash, Data: data})
			return nil
		}
		entries = append(entries, Entry{Path: rel, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// prehashed reports whether rel names a record by hash rather than path.
func prehashed(rel string) (uint64, bool) {
	if strings.Contains(rel, "/") {
		return 0, false
	}
	stem := strings.TrimSuffix(rel, filepath.Ext(rel))
	if len(stem) != 16 {
		return 0, false
	}
	hash, width, err := hashing.Parse(stem)
	if err != nil || width != 64 {
		return 0, false
	}
	return hash, true
}

// SortByHash orders entries by record hash, the order the game expects for
// binary search over the table.
func SortByHash(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Hash(), b.Hash())
	})
}
