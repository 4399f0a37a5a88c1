package archive

import (
	"fmt"
	"io"
	"math"

	"github.com/DataDog/zstd"

	"github.com/riftchanger/skintools/pkg/hashing"
)

// DefaultCompressionLevel is the zstd level used by compressing writers.
const DefaultCompressionLevel = zstd.DefaultCompression

// Entry is one record to be packed: a path (or a bare path hash when the
// path is unknown) and its uncompressed payload.
type Entry struct {
	Path     string
	PathHash uint64 // used only when Path is empty
	Data     []byte
}

// Hash returns the record address of the entry.
func (e Entry) Hash() uint64 {
	if e.Path != "" {
		return hashing.Hash64(e.Path)
	}
	return e.PathHash
}

// Writer packs entries into an archive. The header and record table are
// reserved up front and rewritten on Close, once every payload offset is
// known.
type Writer struct {
	dst     io.WriteSeeker
	version Version
	zstd    bool
	level   int

	expected int
	records  []Record
	seen     map[uint64]string
	offset   int64
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithZstd compresses payloads with zstd at level and tags the archive with
// VersionCompressed. Payloads that do not shrink are stored raw.
func WithZstd(level int) WriterOption {
	return func(w *Writer) {
		w.zstd = true
		w.level = level
		w.version = VersionCompressed
	}
}

// NewWriter creates a writer for exactly count entries.
func NewWriter(dst io.WriteSeeker, count int, opts ...WriterOption) (*Writer, error) {
	if count < 0 || int64(count) > math.MaxUint32 {
		return nil, fmt.Errorf("invalid record count %d", count)
	}

	w := &Writer{
		dst:      dst,
		version:  VersionPlain,
		level:    DefaultCompressionLevel,
		expected: count,
		records:  make([]Record, 0, count),
		seen:     make(map[uint64]string, count),
	}
	for _, opt := range opts {
		opt(w)
	}

	// Reserve header + table.
	w.offset = HeaderSize + int64(count)*RecordSize
	if _, err := dst.Write(make([]byte, w.offset)); err != nil {
		return nil, fmt.Errorf("reserve header: %w", err)
	}

	return w, nil
}

// Add appends one entry's payload and records its table entry.
func (w *Writer) Add(e Entry) error {
	if len(w.records) >= w.expected {
		return fmt.Errorf("writer sized for %d entries", w.expected)
	}

	hash := e.Hash()
	if prev, ok := w.seen[hash]; ok {
		return fmt.Errorf("%w: %q and %q both hash to %016x", ErrDuplicatePath, prev, e.Path, hash)
	}

	stored := e.Data
	kind := CompressionNone
	if w.zstd && len(e.Data) > 0 {
		compressed, err := zstd.CompressLevel(nil, e.Data, w.level)
		if err != nil {
			return fmt.Errorf("compress %q: %w", e.Path, err)
		}
		if len(compressed) < len(e.Data) {
			stored = compressed
			kind = CompressionZstd
		}
	}

	if w.offset+int64(len(stored)) > math.MaxUint32 {
		return fmt.Errorf("archive exceeds 4 GiB at %q", e.Path)
	}

	if _, err := w.dst.Write(stored); err != nil {
		return fmt.Errorf("write payload %q: %w", e.Path, err)
	}

	w.records = append(w.records, Record{
		PathHash:         hash,
		DataOffset:       uint32(w.offset),
		CompressedSize:   uint32(len(stored)),
		UncompressedSize: uint32(len(e.Data)),
		Compression:      kind,
		Checksum:         Checksum(e.Data),
	})
	w.seen[hash] = e.Path
	w.offset += int64(len(stored))
	return nil
}

// Close finalizes the archive by writing the header and record table.
func (w *Writer) Close() error {
	if len(w.records) != w.expected {
		return fmt.Errorf("writer expected %d entries, got %d", w.expected, len(w.records))
	}

	head := make([]byte, HeaderSize+len(w.records)*RecordSize)
	NewHeader(w.version, uint32(len(w.records))).EncodeTo(head)
	for i := range w.records {
		off := HeaderSize + i*RecordSize
		w.records[i].EncodeTo(head[off : off+RecordSize])
	}

	if _, err := w.dst.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	if _, err := w.dst.Write(head); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.dst.Seek(w.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// Pack encodes entries with the manual uncompressed encoding: version 3.0,
// no compression, payloads in input order right after the record table.
func Pack(entries []Entry, opts ...WriterOption) ([]byte, error) {
	buf := &memBuffer{}
	w, err := NewWriter(buf, len(entries), opts...)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// memBuffer is an in-memory io.WriteSeeker.
type memBuffer struct {
	buf []byte
	pos int64
}

func (m *memBuffer) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.pos + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative position %d", pos)
	}
	m.pos = pos
	return pos, nil
}

func (m *memBuffer) Bytes() []byte {
	return m.buf
}
