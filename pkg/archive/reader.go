package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/gzip"

	"github.com/riftchanger/skintools/pkg/hashing"
)

// Archive is a parsed container: its header, the record table and access to
// the payload region through an io.ReaderAt.
type Archive struct {
	header  Header
	records []Record
	index   map[uint64]int
	src     io.ReaderAt
	size    int64
	verify  bool
}

// ReaderOption configures how an archive is opened.
type ReaderOption func(*Archive)

// WithVerifyChecksums makes Read compare every decoded payload against the
// record's checksum prefix. Archives written by third-party packers may use
// a different checksum, so verification is off by default.
func WithVerifyChecksums(verify bool) ReaderOption {
	return func(a *Archive) {
		a.verify = verify
	}
}

// NewReader parses the header and record table from r, whose total length is
// size. Record payloads are read lazily.
func NewReader(r io.ReaderAt, size int64, opts ...ReaderOption) (*Archive, error) {
	a := &Archive{src: r, size: size}
	for _, opt := range opts {
		opt(a)
	}

	if size < HeaderSize {
		return nil, fmt.Errorf("%w: file too short for header: %d bytes", ErrMalformedArchive, size)
	}

	var headerBuf [HeaderSize]byte
	if _, err := r.ReadAt(headerBuf[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := a.header.UnmarshalBinary(headerBuf[:]); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	dataStart := a.header.DataStart()
	if dataStart > size {
		return nil, fmt.Errorf("%w: %d records need %d bytes, file has %d",
			ErrMalformedArchive, a.header.RecordCount, dataStart, size)
	}

	table := make([]byte, a.header.TableSize())
	if len(table) > 0 {
		if n, err := r.ReadAt(table, HeaderSize); n < len(table) {
			return nil, fmt.Errorf("%w: read record table: %w", ErrMalformedArchive, err)
		}
	}

	a.records = make([]Record, a.header.RecordCount)
	a.index = make(map[uint64]int, len(a.records))
	for i := range a.records {
		rec := &a.records[i]
		rec.DecodeFrom(table[i*RecordSize : (i+1)*RecordSize])

		if rec.End() > size {
			return nil, fmt.Errorf("%w: record %016x spans [%d,%d) past end of file (%d)",
				ErrMalformedArchive, rec.PathHash, rec.DataOffset, rec.End(), size)
		}
		if rec.CompressedSize > 0 && int64(rec.DataOffset) < dataStart {
			return nil, fmt.Errorf("%w: record %016x payload at %d overlaps record table ending at %d",
				ErrMalformedArchive, rec.PathHash, rec.DataOffset, dataStart)
		}
		if _, dup := a.index[rec.PathHash]; dup {
			return nil, fmt.Errorf("%w: duplicate path hash %016x", ErrMalformedArchive, rec.PathHash)
		}
		a.index[rec.PathHash] = i
	}

	return a, nil
}

// Unpack parses an in-memory archive.
func Unpack(data []byte, opts ...ReaderOption) (*Archive, error) {
	return NewReader(bytes.NewReader(data), int64(len(data)), opts...)
}

// Open reads and parses the archive at path.
func Open(path string, opts ...ReaderOption) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	a, err := Unpack(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Header returns the archive header.
func (a *Archive) Header() *Header {
	return &a.header
}

// Version returns the archive version tag.
func (a *Archive) Version() Version {
	return a.header.Version
}

// Len returns the number of records.
func (a *Archive) Len() int {
	return len(a.records)
}

// Records returns a copy of the record table in table order.
func (a *Archive) Records() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Lookup returns the record addressed by hash.
func (a *Archive) Lookup(hash uint64) (Record, bool) {
	i, ok := a.index[hash]
	if !ok {
		return Record{}, false
	}
	return a.records[i], true
}

// Contains reports whether a record exists for path.
func (a *Archive) Contains(path string) bool {
	_, ok := a.index[hashing.Hash64(path)]
	return ok
}

// ReadRaw returns the stored (possibly compressed) bytes of rec.
func (a *Archive) ReadRaw(rec Record) ([]byte, error) {
	if rec.End() > a.size {
		return nil, fmt.Errorf("%w: record %016x out of bounds", ErrMalformedArchive, rec.PathHash)
	}
	raw := make([]byte, rec.CompressedSize)
	if _, err := a.src.ReadAt(raw, int64(rec.DataOffset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read record %016x: %w", rec.PathHash, err)
	}
	return raw, nil
}

// Read returns the uncompressed payload of rec.
func (a *Archive) Read(rec Record) ([]byte, error) {
	raw, err := a.ReadRaw(rec)
	if err != nil {
		return nil, err
	}

	data, err := decode(rec, raw)
	if err != nil {
		return nil, err
	}

	if uint32(len(data)) != rec.UncompressedSize {
		return nil, fmt.Errorf("%w: record %016x decoded to %d bytes, expected %d",
			ErrMalformedArchive, rec.PathHash, len(data), rec.UncompressedSize)
	}

	if a.verify && Checksum(data) != rec.Checksum {
		return nil, fmt.Errorf("%w: %w: record %016x", ErrMalformedArchive, ErrChecksumMismatch, rec.PathHash)
	}

	return data, nil
}

// ReadPath returns the payload of the record addressed by path.
func (a *Archive) ReadPath(path string) ([]byte, error) {
	rec, ok := a.Lookup(hashing.Hash64(path))
	if !ok {
		return nil, fmt.Errorf("record %s: %w", path, os.ErrNotExist)
	}
	return a.Read(rec)
}

func decode(rec Record, raw []byte) ([]byte, error) {
	switch rec.Compression {
	case CompressionNone:
		return raw, nil

	case CompressionZstd:
		data, err := zstd.Decompress(make([]byte, 0, rec.UncompressedSize), raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress record %016x: %v", ErrMalformedArchive, rec.PathHash, err)
		}
		return data, nil

	case CompressionZstdMulti:
		// Subchunks stored as consecutive zstd frames decode in one call.
		// Raw subchunks need the external subchunk table and are not
		// supported.
		data, err := zstd.Decompress(make([]byte, 0, rec.UncompressedSize), raw)
		if err != nil {
			return nil, fmt.Errorf("%w: record %016x (%s): %v",
				ErrUnsupportedCompression, rec.PathHash, rec.Compression, err)
		}
		return data, nil

	case CompressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip record %016x: %v", ErrMalformedArchive, rec.PathHash, err)
		}
		defer gr.Close()
		data, err := io.ReadAll(io.LimitReader(gr, int64(rec.UncompressedSize)+1))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip record %016x: %v", ErrMalformedArchive, rec.PathHash, err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: record %016x uses %s", ErrUnsupportedCompression, rec.PathHash, rec.Compression)
	}
}
