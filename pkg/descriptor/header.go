// Package descriptor rewrites skin descriptor (".bin") blobs so that a
// variant's references point at the default variant slot.
package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrFormatUnrecognized is returned when the descriptor header cannot be
	// parsed. The accompanying output is always the unmodified input.
	ErrFormatUnrecognized = errors.New("descriptor format unrecognized")

	// ErrMixedStrategy is returned when linked-string rewriting is requested
	// together with a hash dictionary.
	ErrMixedStrategy = errors.New("linked-string rewriting cannot be combined with a hash dictionary")
)

// Header tags.
var (
	MagicProp  = [4]byte{'P', 'R', 'O', 'P'}
	MagicPatch = [4]byte{'P', 'T', 'C', 'H'}
)

const (
	patchPreambleSize = 12 // "PTCH" + 8 reserved bytes
	linkedTableMinVer = 2
)

// Info is the read-only view of a descriptor header.
type Info struct {
	Patch         bool // "PTCH" preamble present
	Magic         string
	Version       uint32
	LinkedStrings []string

	// TableStart and TableEnd delimit the linked-string table including its
	// count prefix. Both equal the end of the header when there is no table.
	TableStart int
	TableEnd   int
}

// HasLinkedTable reports whether the header declares a linked-string table.
func (i *Info) HasLinkedTable() bool {
	return i.Version >= linkedTableMinVer
}

// Parse reads the descriptor header.
func Parse(data []byte) (*Info, error) {
	info := &Info{}
	off := 0

	if len(data) >= 4 && [4]byte(data[:4]) == MagicPatch {
		if len(data) < patchPreambleSize {
			return nil, fmt.Errorf("%w: truncated patch preamble", ErrFormatUnrecognized)
		}
		info.Patch = true
		off = patchPreambleSize
	}

	if len(data) < off+8 {
		return nil, fmt.Errorf("%w: %d bytes is too short for a header", ErrFormatUnrecognized, len(data))
	}
	if [4]byte(data[off:off+4]) != MagicProp {
		return nil, fmt.Errorf("%w: magic %q", ErrFormatUnrecognized, data[off:off+4])
	}
	info.Magic = string(MagicProp[:])
	info.Version = binary.LittleEndian.Uint32(data[off+4 : off+8])
	off += 8

	info.TableStart = off
	info.TableEnd = off
	if !info.HasLinkedTable() {
		return info, nil
	}

	if len(data) < off+4 {
		return nil, fmt.Errorf("%w: truncated linked-string count", ErrFormatUnrecognized)
	}
	count := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	// Each string needs at least its 2-byte length prefix.
	if uint64(count)*2 > uint64(len(data)-off) {
		return nil, fmt.Errorf("%w: %d linked strings exceed buffer", ErrFormatUnrecognized, count)
	}

	info.LinkedStrings = make([]string, 0, count)
	for range count {
		if len(data) < off+2 {
			return nil, fmt.Errorf("%w: truncated linked string", ErrFormatUnrecognized)
		}
		n := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if len(data) < off+n {
			return nil, fmt.Errorf("%w: truncated linked string", ErrFormatUnrecognized)
		}
		info.LinkedStrings = append(info.LinkedStrings, string(data[off:off+n]))
		off += n
	}
	info.TableEnd = off

	return info, nil
}

// encodeLinkedTable emits a linked-string table with fresh length prefixes.
func encodeLinkedTable(strs []string) ([]byte, error) {
	size := 4
	for _, s := range strs {
		if len(s) > 0xffff {
			return nil, fmt.Errorf("linked string of %d bytes exceeds u16 length", len(s))
		}
		size += 2 + len(s)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(strs)))
	for _, s := range strs {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf, nil
}
