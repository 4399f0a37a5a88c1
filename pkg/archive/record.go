package archive

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// RecordSize is the fixed binary size of one record table entry.
const RecordSize = 32

// Compression identifies how a record payload is stored.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionSatellite
	CompressionZstd
	CompressionZstdMulti
)

// String returns the human-readable name of the compression kind.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionSatellite:
		return "satellite"
	case CompressionZstd:
		return "zstd"
	case CompressionZstdMulti:
		return "zstd-multi"
	default:
		return "unknown"
	}
}

// Record is one entry of the record table.
type Record struct {
	PathHash         uint64
	DataOffset       uint32
	CompressedSize   uint32
	UncompressedSize uint32
	Compression      Compression
	SubchunkCount    uint8 // high nibble of the type byte, v3.4 only
	Duplicate        bool
	FirstSubchunk    uint16
	Checksum         [8]byte // first 8 bytes of sha256 over the uncompressed payload
}

// End returns the offset one past the record's last payload byte.
func (r *Record) End() int64 {
	return int64(r.DataOffset) + int64(r.CompressedSize)
}

// EncodeTo writes the record to buf, which must be at least RecordSize bytes.
func (r *Record) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], r.PathHash)
	binary.LittleEndian.PutUint32(buf[8:12], r.DataOffset)
	binary.LittleEndian.PutUint32(buf[12:16], r.CompressedSize)
	binary.LittleEndian.PutUint32(buf[16:20], r.UncompressedSize)
	buf[20] = byte(r.Compression)&0x0f | r.SubchunkCount<<4
	if r.Duplicate {
		buf[21] = 1
	} else {
		buf[21] = 0
	}
	binary.LittleEndian.PutUint16(buf[22:24], r.FirstSubchunk)
	copy(buf[24:32], r.Checksum[:])
}

// DecodeFrom reads the record from buf.
func (r *Record) DecodeFrom(buf []byte) {
	r.PathHash = binary.LittleEndian.Uint64(buf[0:8])
	r.DataOffset = binary.LittleEndian.Uint32(buf[8:12])
	r.CompressedSize = binary.LittleEndian.Uint32(buf[12:16])
	r.UncompressedSize = binary.LittleEndian.Uint32(buf[16:20])
	r.Compression = Compression(buf[20] & 0x0f)
	r.SubchunkCount = buf[20] >> 4
	r.Duplicate = buf[21] != 0
	r.FirstSubchunk = binary.LittleEndian.Uint16(buf[22:24])
	copy(r.Checksum[:], buf[24:32])
}

func (r *Record) String() string {
	return fmt.Sprintf("Record[hash=%016x, off=%d, size=%d/%d, %s]",
		r.PathHash, r.DataOffset, r.CompressedSize, r.UncompressedSize, r.Compression)
}

// Checksum returns the checksum prefix stored for payload.
func Checksum(payload []byte) [8]byte {
	sum := sha256.Sum256(payload)
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}
