package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/liliang-cn/sqprint/internal/encoding"
)

func seedDumpSource(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e := newTestEngine(t)

	insert(t, e,
		Record{Hash: 1000, ResourceID: 1, T1: 5},
		Record{Hash: 1000, ResourceID: 1, T1: 5},
		Record{Hash: -77, ResourceID: 2, T1: 9},
		Record{Hash: 1 << 62, ResourceID: 3, T1: 1},
	)
	if err := e.Catalog().Upsert(ctx, 1, "one.wav", 1.5, 2); err != nil {
		t.Fatalf("Failed to upsert metadata: %v", err)
	}
	if err := e.Catalog().Upsert(ctx, 2, "two, with \"quotes\".wav", 0.25, 1); err != nil {
		t.Fatalf("Failed to upsert metadata: %v", err)
	}
	return e
}

// TestDumpLoadRoundTrip exercises every format and compression pair
func TestDumpLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seedDumpSource(t)

	for _, format := range []DumpFormat{DumpFormatBinary, DumpFormatJSONL} {
		for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
			t.Run(string(format)+"/"+string(compression), func(t *testing.T) {
				var buf bytes.Buffer
				stats, err := src.Dump(ctx, &buf, DumpOptions{Format: format, Compression: compression})
				if err != nil {
					t.Fatalf("Dump failed: %v", err)
				}
				if stats.Records != 4 || stats.Resources != 2 {
					t.Errorf("Unexpected dump stats: %+v", stats)
				}
				if stats.BytesWritten != int64(buf.Len()) {
					t.Errorf("BytesWritten %d, buffer holds %d", stats.BytesWritten, buf.Len())
				}

				dst := newTestEngine(t)
				loaded, err := dst.Load(ctx, &buf, LoadOptions{BatchSize: 3})
				if err != nil {
					t.Fatalf("Load failed: %v", err)
				}
				if loaded.Records != 4 || loaded.Resources != 2 || loaded.Batches != 2 {
					t.Errorf("Unexpected load stats: %+v", loaded)
				}

				if got := records(t, dst, 1000, 0); len(got) != 2 {
					t.Errorf("Expected duplicate records to survive, got %v", got)
				}
				if got := records(t, dst, 1<<62, 0); len(got) != 1 || got[0].ResourceID != 3 {
					t.Errorf("Unexpected records for 1<<62: %v", got)
				}

				m, ok, err := dst.Catalog().Get(ctx, 2)
				if err != nil || !ok {
					t.Fatalf("Metadata 2 missing after load: ok=%v err=%v", ok, err)
				}
				if m.Path != "two, with \"quotes\".wav" || m.Duration != 0.25 || m.NumFingerprints != 1 {
					t.Errorf("Metadata not preserved: %+v", m)
				}
			})
		}
	}
}

func TestDumpDefaults(t *testing.T) {
	var buf bytes.Buffer
	if _, err := seedDumpSource(t).Dump(context.Background(), &buf, DefaultDumpOptions()); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), zstdMagic) {
		t.Errorf("Default dump should be zstd compressed")
	}
}

func TestDumpJSONLHeader(t *testing.T) {
	var buf bytes.Buffer
	_, err := seedDumpSource(t).Dump(context.Background(), &buf, DumpOptions{Format: DumpFormatJSONL})
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("Expected header, 2 metadata and 4 record lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"kind":"header"`) || !strings.Contains(lines[0], `"backend":"SQLite"`) {
		t.Errorf("Unexpected header line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"kind":"metadata"`) || !strings.Contains(lines[6], `"kind":"record"`) {
		t.Errorf("Metadata must precede records")
	}
}

func TestDumpRejectsUnknownOptions(t *testing.T) {
	e := newTestEngine(t)
	var buf bytes.Buffer

	if _, err := e.Dump(context.Background(), &buf, DumpOptions{Format: "xml"}); err == nil {
		t.Error("Expected error for unsupported format")
	}
	if _, err := e.Dump(context.Background(), &buf, DumpOptions{Compression: "bzip2"}); err == nil {
		t.Error("Expected error for unsupported compression")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrUnknownFormat},
		{"plain text", "hello", ErrUnknownFormat},
		{"bad magic", "SQXX\x01E", encoding.ErrBadMagic},
		{"truncated record", "SQPD\x01R\x01\x02", encoding.ErrCorrupt},
		{"unknown jsonl kind", `{"kind":"vector"}` + "\n", ErrUnknownFormat},
		{"newer version", `{"kind":"header","version":99}` + "\n", encoding.ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Load(ctx, strings.NewReader(tt.input), DefaultLoadOptions())
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	n, err := e.Index().Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("Failed loads must not insert records: n=%d err=%v", n, err)
	}
}

func TestDumpClosedEngine(t *testing.T) {
	e := newTestEngine(t)
	_ = e.Close()

	var buf bytes.Buffer
	if _, err := e.Dump(context.Background(), &buf, DefaultDumpOptions()); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
	if _, err := e.Load(context.Background(), &buf, DefaultLoadOptions()); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
}
