package encoding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Magic opens every binary dump stream
var Magic = [4]byte{'S', 'Q', 'P', 'D'}

// Version is the current binary dump version
const Version byte = 1

// Frame tags
const (
	TagMetadata byte = 'M'
	TagRecord   byte = 'R'
	TagEnd      byte = 'E'
)

// maxPathLen bounds decoded path lengths so corrupt input cannot allocate unbounded memory
const maxPathLen = 1 << 20

var (
	// ErrBadMagic is returned when a stream does not start with Magic
	ErrBadMagic = errors.New("not a binary dump stream")
	// ErrUnsupportedVersion is returned for dumps written by a newer version
	ErrUnsupportedVersion = errors.New("unsupported dump version")
	// ErrCorrupt is returned for truncated or malformed frames
	ErrCorrupt = errors.New("corrupt dump frame")
)

// Record is the wire form of a fingerprint record
type Record struct {
	Hash       int64
	ResourceID uint32
	T1         uint32
}

// Metadata is the wire form of a resource metadata row
type Metadata struct {
	ResourceID      uint32
	Path            string
	Duration        float32
	NumFingerprints int32
}

// Frame is one decoded unit of a dump stream; Tag selects the populated field
type Frame struct {
	Tag      byte
	Record   Record
	Metadata Metadata
}

// Writer encodes frames using little-endian fixed-width fields
type Writer struct {
	w   *bufio.Writer
	buf [16]byte
}

// NewWriter writes the stream header and returns a frame writer
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Magic[:]); err != nil {
		return nil, fmt.Errorf("failed to write magic: %w", err)
	}
	if err := bw.WriteByte(Version); err != nil {
		return nil, fmt.Errorf("failed to write version: %w", err)
	}
	return &Writer{w: bw}, nil
}

// WriteRecord encodes a record frame
func (w *Writer) WriteRecord(r Record) error {
	if err := w.w.WriteByte(TagRecord); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w.buf[0:8], uint64(r.Hash))
	binary.LittleEndian.PutUint32(w.buf[8:12], r.ResourceID)
	binary.LittleEndian.PutUint32(w.buf[12:16], r.T1)
	_, err := w.w.Write(w.buf[:16])
	return err
}

// WriteMetadata encodes a metadata frame
func (w *Writer) WriteMetadata(m Metadata) error {
	if len(m.Path) > maxPathLen {
		return fmt.Errorf("path too long: %d bytes exceeds maximum", len(m.Path))
	}
	if err := w.w.WriteByte(TagMetadata); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.buf[0:4], m.ResourceID)
	binary.LittleEndian.PutUint32(w.buf[4:8], math.Float32bits(m.Duration))
	binary.LittleEndian.PutUint32(w.buf[8:12], uint32(m.NumFingerprints))
	binary.LittleEndian.PutUint32(w.buf[12:16], uint32(len(m.Path)))
	if _, err := w.w.Write(w.buf[:16]); err != nil {
		return err
	}
	_, err := w.w.WriteString(m.Path)
	return err
}

// Close writes the end frame and flushes buffered output.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.w.WriteByte(TagEnd); err != nil {
		return err
	}
	return w.w.Flush()
}

// Reader decodes frames written by Writer
type Reader struct {
	r   *bufio.Reader
	buf [16]byte
	end bool
}

// NewReader validates the stream header and returns a frame reader
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var hdr [5]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if [4]byte(hdr[:4]) != Magic {
		return nil, ErrBadMagic
	}
	if hdr[4] > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr[4])
	}
	return &Reader{r: br}, nil
}

// Next returns the next frame, or io.EOF after the end frame
func (r *Reader) Next() (Frame, error) {
	if r.end {
		return Frame{}, io.EOF
	}

	tag, err := r.r.ReadByte()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: missing end frame: %v", ErrCorrupt, err)
	}

	switch tag {
	case TagEnd:
		r.end = true
		return Frame{}, io.EOF

	case TagRecord:
		if _, err := io.ReadFull(r.r, r.buf[:16]); err != nil {
			return Frame{}, fmt.Errorf("%w: record: %v", ErrCorrupt, err)
		}
		return Frame{Tag: TagRecord, Record: Record{
			Hash:       int64(binary.LittleEndian.Uint64(r.buf[0:8])),
			ResourceID: binary.LittleEndian.Uint32(r.buf[8:12]),
			T1:         binary.LittleEndian.Uint32(r.buf[12:16]),
		}}, nil

	case TagMetadata:
		if _, err := io.ReadFull(r.r, r.buf[:16]); err != nil {
			return Frame{}, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
		}
		pathLen := binary.LittleEndian.Uint32(r.buf[12:16])
		if pathLen > maxPathLen {
			return Frame{}, fmt.Errorf("%w: path length %d", ErrCorrupt, pathLen)
		}
		path := make([]byte, pathLen)
		if _, err := io.ReadFull(r.r, path); err != nil {
			return Frame{}, fmt.Errorf("%w: metadata path: %v", ErrCorrupt, err)
		}
		return Frame{Tag: TagMetadata, Metadata: Metadata{
			ResourceID:      binary.LittleEndian.Uint32(r.buf[0:4]),
			Duration:        math.Float32frombits(binary.LittleEndian.Uint32(r.buf[4:8])),
			NumFingerprints: int32(binary.LittleEndian.Uint32(r.buf[8:12])),
			Path:            string(path),
		}}, nil

	default:
		return Frame{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrCorrupt, tag)
	}
}
