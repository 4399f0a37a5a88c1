// Package archive reads and writes the game's hash-addressed asset container
// (".wad.client" files).
//
// Layout, all integers little-endian:
//
//	header  "RW" major(1) minor(1) signature(256) checksum(8) count(4)   272 bytes
//	table   count × 32-byte records
//	payload record data
package archive

import (
	"encoding/binary"
	"fmt"
)

// Magic bytes identifying an archive header.
var Magic = [2]byte{'R', 'W'}

const (
	// HeaderSize is the fixed binary size of an archive header. It does not
	// depend on the minor version.
	HeaderSize = 272 // 2 + 1 + 1 + 256 + 8 + 4

	// SignatureSize is the size of the reserved signature region.
	SignatureSize = 256

	// SupportedMajor is the only major version this package reads or writes.
	SupportedMajor = 3

	// MaxMinor is the newest minor version understood by the reader.
	MaxMinor = 4
)

// Version is a major/minor archive version tag.
type Version struct {
	Major uint8
	Minor uint8
}

// Versions produced by the encoders in this package.
var (
	// VersionPlain is written by the manual uncompressed encoder.
	VersionPlain = Version{Major: 3, Minor: 0}
	// VersionCompressed is written by the compressing encoders.
	VersionCompressed = Version{Major: 3, Minor: 4}
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Header represents the fixed header of an archive file.
type Header struct {
	Magic       [2]byte
	Version     Version
	Signature   [SignatureSize]byte
	Checksum    [8]byte
	RecordCount uint32
}

// NewHeader creates a header for count records at the given version.
func NewHeader(v Version, count uint32) *Header {
	return &Header{
		Magic:       Magic,
		Version:     v,
		RecordCount: count,
	}
}

// Size returns the binary size of the header.
func (h *Header) Size() int {
	return HeaderSize
}

// TableSize returns the byte length of the record table.
func (h *Header) TableSize() int64 {
	return int64(h.RecordCount) * RecordSize
}

// DataStart returns the offset of the first payload byte.
func (h *Header) DataStart() int64 {
	return HeaderSize + h.TableSize()
}

// Validate checks the header for validity.
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: invalid magic: expected %x, got %x", ErrMalformedArchive, Magic, h.Magic)
	}
	if h.Version.Major != SupportedMajor || h.Version.Minor > MaxMinor {
		return fmt.Errorf("%w: unsupported version %s", ErrMalformedArchive, h.Version)
	}
	return nil
}

// MarshalBinary encodes the header to binary format.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[0:2], h.Magic[:])
	buf[2] = h.Version.Major
	buf[3] = h.Version.Minor
	copy(buf[4:260], h.Signature[:])
	copy(buf[260:268], h.Checksum[:])
	binary.LittleEndian.PutUint32(buf[268:272], h.RecordCount)
}

// UnmarshalBinary decodes and validates the header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header too short: need %d, got %d", ErrMalformedArchive, HeaderSize, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}

// DecodeFrom reads the header from the given buffer.
// Does not validate - use UnmarshalBinary for validation.
func (h *Header) DecodeFrom(data []byte) {
	copy(h.Magic[:], data[0:2])
	h.Version.Major = data[2]
	h.Version.Minor = data[3]
	copy(h.Signature[:], data[4:260])
	copy(h.Checksum[:], data[260:268])
	h.RecordCount = binary.LittleEndian.Uint32(data[268:272])
}
