package archive

import "errors"

var (
	// ErrMalformedArchive is returned when a container is corrupt or truncated.
	ErrMalformedArchive = errors.New("malformed archive")

	// ErrChecksumMismatch is returned when a payload does not match its
	// stored checksum prefix. It always wraps ErrMalformedArchive.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedCompression is returned for record kinds the reader
	// cannot decode.
	ErrUnsupportedCompression = errors.New("unsupported compression")

	// ErrDuplicatePath is returned when two entries hash to the same record.
	ErrDuplicatePath = errors.New("duplicate record path")

	// ErrPackerFailed is returned when the external packer fails.
	ErrPackerFailed = errors.New("external packer failed")

	// ErrUnsafePath is returned when a record path would escape the
	// extraction directory.
	ErrUnsafePath = errors.New("unsafe record path")
)
