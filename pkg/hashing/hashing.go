// Package hashing implements the path hashes used to address archive records
// and descriptor entries.
//
// Two independent schemes are in use:
//   - Hash32: FNV-1a 32 over a lowercased path. Descriptors reference entries,
//     animations and resources by this value.
//   - Hash64: XXH64 (seed 0) over a lowercased path. Archive records of major
//     version 3 are addressed by this value.
//
// A hash that differs by a single bit addresses a different record, and the
// game silently fails to find the asset, so both functions rely on exact
// unsigned wraparound arithmetic.
package hashing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	fnvOffset32 uint32 = 0x811c9dc5
	fnvPrime32  uint32 = 0x01000193
)

// Hash32 returns the FNV-1a 32 hash of the lowercased path.
func Hash32(path string) uint32 {
	return hash32Raw(strings.ToLower(path))
}

// hash32Raw returns the FNV-1a 32 hash of s without case normalisation.
func hash32Raw(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// Hash64 returns the XXH64 hash of the lowercased path.
func Hash64(path string) uint64 {
	return xxhash.Sum64String(strings.ToLower(path))
}

// Format32 renders a 32-bit hash as 8 lowercase hex digits.
func Format32(h uint32) string {
	return fmt.Sprintf("%08x", h)
}

// Format64 renders a 64-bit hash as 16 lowercase hex digits.
func Format64(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// Parse decodes an 8 or 16 digit hex hash. The returned width is 32 or 64.
func Parse(s string) (hash uint64, width int, err error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	switch len(s) {
	case 8:
		width = 32
	case 16:
		width = 64
	default:
		return 0, 0, fmt.Errorf("hash %q: expected 8 or 16 hex digits, got %d", s, len(s))
	}
	hash, err = strconv.ParseUint(s, 16, width)
	if err != nil {
		return 0, 0, fmt.Errorf("hash %q: %w", s, err)
	}
	return hash, width, nil
}
