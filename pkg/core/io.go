package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/liliang-cn/sqprint/internal/encoding"
)

// DumpFormat represents the format for data export
type DumpFormat string

const (
	// DumpFormatJSONL exports one JSON object per line
	DumpFormatJSONL DumpFormat = "jsonl"
	// DumpFormatBinary exports compact tagged frames
	DumpFormatBinary DumpFormat = "binary"
)

// Compression selects the stream compression of a dump
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// DumpOptions defines options for data export
type DumpOptions struct {
	Format      DumpFormat
	Compression Compression
	ZstdLevel   int // 1 (fastest) .. 22 (best); 0 uses the library default
}

// DefaultDumpOptions returns default dump options
func DefaultDumpOptions() DumpOptions {
	return DumpOptions{
		Format:      DumpFormatBinary,
		Compression: CompressionZstd,
	}
}

// DumpStats provides statistics about the export operation
type DumpStats struct {
	Records      int64 `json:"records"`
	Resources    int64 `json:"resources"`
	BytesWritten int64 `json:"bytes_written"`
}

// LoadOptions defines options for data import
type LoadOptions struct {
	BatchSize int // Records per insert transaction (default: 10000)
}

// DefaultLoadOptions returns default load options
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{BatchSize: 10000}
}

// LoadStats provides statistics about the import operation
type LoadStats struct {
	Records   int64 `json:"records"`
	Resources int64 `json:"resources"`
	Batches   int   `json:"batches"`
}

// dumpLine is one JSONL entry
type dumpLine struct {
	Kind       string            `json:"kind"`
	Version    int               `json:"version,omitempty"`
	Backend    string            `json:"backend,omitempty"`
	ExportedAt string            `json:"exported_at,omitempty"`
	Metadata   *ResourceMetadata `json:"metadata,omitempty"`
	Record     *Record           `json:"record,omitempty"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Dump exports all metadata rows followed by all records
func (e *Engine) Dump(ctx context.Context, w io.Writer, opts DumpOptions) (*DumpStats, error) {
	if e.closed.Load() {
		return nil, wrapError("dump", ErrStoreClosed)
	}
	if opts.Format == "" {
		opts.Format = DumpFormatBinary
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}

	cw := &countingWriter{w: w}
	out, closeOut, err := compressWriter(cw, opts)
	if err != nil {
		return nil, wrapError("dump", err)
	}

	var stats *DumpStats
	switch opts.Format {
	case DumpFormatJSONL:
		stats, err = e.dumpJSONL(ctx, out)
	case DumpFormatBinary:
		stats, err = e.dumpBinary(ctx, out)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		_ = closeOut()
		return nil, wrapError("dump", err)
	}

	if err := closeOut(); err != nil {
		return nil, wrapError("dump", fmt.Errorf("failed to finish compressed stream: %w", err))
	}
	stats.BytesWritten = cw.n

	e.logger.Info("dump completed", "format", opts.Format, "compression", opts.Compression,
		"records", stats.Records, "resources", stats.Resources, "bytes", stats.BytesWritten)
	return stats, nil
}

func compressWriter(w io.Writer, opts DumpOptions) (io.Writer, func() error, error) {
	switch opts.Compression {
	case CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionZstd:
		zopts := []zstd.EOption{}
		if opts.ZstdLevel > 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.ZstdLevel)))
		}
		enc, err := zstd.NewWriter(w, zopts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		return enc, enc.Close, nil
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		return zw, zw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %s", opts.Compression)
	}
}

func (e *Engine) dumpJSONL(ctx context.Context, w io.Writer) (*DumpStats, error) {
	stats := &DumpStats{}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	header := dumpLine{
		Kind:       "header",
		Version:    int(encoding.Version),
		Backend:    e.backend.Name(),
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}

	err := e.backend.ScanMetadata(ctx, func(m ResourceMetadata) error {
		stats.Resources++
		return enc.Encode(dumpLine{Kind: "metadata", Metadata: &m})
	})
	if err != nil {
		return nil, err
	}

	err = e.backend.ScanRecords(ctx, func(r Record) error {
		stats.Records++
		return enc.Encode(dumpLine{Kind: "record", Record: &r})
	})
	if err != nil {
		return nil, err
	}

	return stats, bw.Flush()
}

func (e *Engine) dumpBinary(ctx context.Context, w io.Writer) (*DumpStats, error) {
	stats := &DumpStats{}
	fw, err := encoding.NewWriter(w)
	if err != nil {
		return nil, err
	}

	err = e.backend.ScanMetadata(ctx, func(m ResourceMetadata) error {
		stats.Resources++
		return fw.WriteMetadata(encoding.Metadata{
			ResourceID:      m.ResourceID,
			Path:            m.Path,
			Duration:        m.Duration,
			NumFingerprints: m.NumFingerprints,
		})
	})
	if err != nil {
		return nil, err
	}

	err = e.backend.ScanRecords(ctx, func(r Record) error {
		stats.Records++
		return fw.WriteRecord(encoding.Record{Hash: r.Hash, ResourceID: r.ResourceID, T1: r.T1})
	})
	if err != nil {
		return nil, err
	}

	return stats, fw.Close()
}

// Load imports a stream produced by Dump. Compression and format are
// detected from the leading bytes. Records are inserted in atomic batches;
// a failure aborts the load and leaves earlier batches committed.
func (e *Engine) Load(ctx context.Context, r io.Reader, opts LoadOptions) (*LoadStats, error) {
	if e.closed.Load() {
		return nil, wrapError("load", ErrStoreClosed)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultLoadOptions().BatchSize
	}

	in, closeIn, err := decompressReader(r)
	if err != nil {
		return nil, wrapError("load", err)
	}
	defer closeIn()

	br := bufio.NewReader(in)
	first, err := br.Peek(1)
	if err != nil {
		return nil, wrapError("load", fmt.Errorf("%w: %v", ErrUnknownFormat, err))
	}

	l := &loader{engine: e, batchSize: opts.BatchSize, stats: &LoadStats{}}
	switch first[0] {
	case encoding.Magic[0]:
		err = l.loadBinary(ctx, br)
	case '{':
		err = l.loadJSONL(ctx, br)
	default:
		err = ErrUnknownFormat
	}
	if err == nil {
		err = l.flush(ctx)
	}
	if err != nil {
		return l.stats, wrapError("load", err)
	}

	e.logger.Info("load completed", "records", l.stats.Records, "resources", l.stats.Resources, "batches", l.stats.Batches)
	return l.stats, nil
}

func decompressReader(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	switch {
	case bytes.Equal(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		return dec, dec.Close, nil
	case bytes.Equal(head, lz4Magic):
		return lz4.NewReader(br), func() {}, nil
	default:
		return br, func() {}, nil
	}
}

type loader struct {
	engine    *Engine
	batchSize int
	pending   []Record
	stats     *LoadStats
}

func (l *loader) addRecord(ctx context.Context, r Record) error {
	l.pending = append(l.pending, r)
	if len(l.pending) >= l.batchSize {
		return l.flush(ctx)
	}
	return nil
}

func (l *loader) addMetadata(ctx context.Context, m ResourceMetadata) error {
	if err := l.engine.backend.UpsertMetadata(ctx, m); err != nil {
		return err
	}
	l.stats.Resources++
	return nil
}

func (l *loader) flush(ctx context.Context) error {
	if len(l.pending) == 0 {
		return nil
	}
	if err := l.engine.index.InsertBatch(ctx, l.pending); err != nil {
		return err
	}
	l.stats.Records += int64(len(l.pending))
	l.stats.Batches++
	l.pending = l.pending[:0]
	return nil
}

func (l *loader) loadBinary(ctx context.Context, r io.Reader) error {
	fr, err := encoding.NewReader(r)
	if err != nil {
		return err
	}
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch f.Tag {
		case encoding.TagMetadata:
			err = l.addMetadata(ctx, ResourceMetadata{
				ResourceID:      f.Metadata.ResourceID,
				Path:            f.Metadata.Path,
				Duration:        f.Metadata.Duration,
				NumFingerprints: f.Metadata.NumFingerprints,
			})
		case encoding.TagRecord:
			err = l.addRecord(ctx, Record{Hash: f.Record.Hash, ResourceID: f.Record.ResourceID, T1: f.Record.T1})
		}
		if err != nil {
			return err
		}
	}
}

func (l *loader) loadJSONL(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var line dumpLine
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode line: %w", err)
		}

		switch line.Kind {
		case "header":
			if line.Version > int(encoding.Version) {
				return fmt.Errorf("%w: %d", encoding.ErrUnsupportedVersion, line.Version)
			}
		case "metadata":
			if line.Metadata == nil {
				return fmt.Errorf("%w: metadata line without payload", ErrUnknownFormat)
			}
			err = l.addMetadata(ctx, *line.Metadata)
		case "record":
			if line.Record == nil {
				return fmt.Errorf("%w: record line without payload", ErrUnknownFormat)
			}
			err = l.addRecord(ctx, *line.Record)
		default:
			return fmt.Errorf("%w: unknown kind %q", ErrUnknownFormat, line.Kind)
		}
		if err != nil {
			return err
		}
	}
}
