// Package hashdict loads hash-to-path dictionaries in the community
// "<hex> <path>" text format (hashes.game.txt, hashes.binentries.txt).
package hashdict

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"strings"

	"github.com/riftchanger/skintools/pkg/hashing"
)

// Well-known dictionary file names.
const (
	GameFile       = "hashes.game.txt"
	BinEntriesFile = "hashes.binentries.txt"
)

// Dictionary maps path hashes of a single width to their source paths.
type Dictionary struct {
	width   int
	entries map[uint64]string
	skipped int
}

// New returns an empty dictionary for hashes of the given width (32 or 64).
func New(width int) *Dictionary {
	return &Dictionary{width: width, entries: make(map[uint64]string)}
}

// Load parses a dictionary from r. Lines whose hash does not have the
// expected width, or that cannot be parsed, are skipped and counted.
func Load(r io.Reader, width int) (*Dictionary, error) {
	d := New(width)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hexPart, path, ok := strings.Cut(line, " ")
		if !ok {
			d.skipped++
			continue
		}
		hash, w, err := hashing.Parse(hexPart)
		if err != nil || w != width {
			d.skipped++
			continue
		}
		d.entries[hash] = strings.TrimSpace(path)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dictionary: %w", err)
	}
	return d, nil
}

// LoadFile reads a dictionary from path.
func LoadFile(path string, width int) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()

	d, err := Load(f, width)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return d, nil
}

// Width returns the hash width in bits.
func (d *Dictionary) Width() int {
	return d.width
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Skipped returns the number of malformed lines ignored during Load.
func (d *Dictionary) Skipped() int {
	return d.skipped
}

// Add inserts or replaces an entry.
func (d *Dictionary) Add(hash uint64, path string) {
	d.entries[hash] = path
}

// Lookup returns the path recorded for hash.
func (d *Dictionary) Lookup(hash uint64) (string, bool) {
	if d == nil {
		return "", false
	}
	p, ok := d.entries[hash]
	return p, ok
}

// Paths returns every recorded path, sorted.
func (d *Dictionary) Paths() []string {
	return d.Filter(func(string) bool { return true })
}

// Filter returns the sorted paths for which keep returns true.
func (d *Dictionary) Filter(keep func(path string) bool) []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, p := range d.entries {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// All iterates over every hash/path pair in unspecified order.
func (d *Dictionary) All() iter.Seq2[uint64, string] {
	return func(yield func(uint64, string) bool) {
		if d == nil {
			return
		}
		for h, p := range d.entries {
			if !yield(h, p) {
				return
			}
		}
	}
}
