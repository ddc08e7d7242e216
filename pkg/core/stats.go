package core

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
)

// ppsEpsilon floors the duration of zero-length resources
const ppsEpsilon = 1e-9

// Statistics summarizes the index and catalog contents
type Statistics struct {
	Backend      string `json:"backend"`
	TotalRecords int64  `json:"total_records"`

	// Detailed section, filled from the metadata catalog
	Resources          int64   `json:"resources"`
	TotalDuration      float64 `json:"total_duration"`
	TotalFingerprints  int64   `json:"total_fingerprints"`
	AvgPrintsPerSecond float64 `json:"avg_prints_per_second"`
	MinPrintsPerSecond float64 `json:"min_prints_per_second"`
	MinPath            string  `json:"min_path"`
	MaxPrintsPerSecond float64 `json:"max_prints_per_second"`
	MaxPath            string  `json:"max_path"`
}

// StatisticsReporter derives reports from the current index and catalog
type StatisticsReporter struct {
	backend Backend
	index   *FingerprintIndex
}

// NewStatisticsReporter creates a reporter over backend
func NewStatisticsReporter(backend Backend, index *FingerprintIndex) *StatisticsReporter {
	return &StatisticsReporter{backend: backend, index: index}
}

// Collect gathers the record total and, when detailed is set, per-corpus
// averages and extremes.
func (r *StatisticsReporter) Collect(ctx context.Context, detailed bool) (Statistics, error) {
	st := Statistics{Backend: r.backend.Name()}

	count, err := r.index.Count(ctx)
	if err != nil {
		return Statistics{}, wrapError("stats", err)
	}
	st.TotalRecords = count

	if !detailed {
		return st, nil
	}

	first := true
	err = r.backend.ScanMetadata(ctx, func(m ResourceMetadata) error {
		duration := float64(m.Duration)
		st.Resources++
		st.TotalDuration += duration
		st.TotalFingerprints += int64(m.NumFingerprints)

		pps := float64(m.NumFingerprints) / math.Max(duration, ppsEpsilon)
		if first {
			st.MinPrintsPerSecond, st.MinPath = pps, m.Path
			st.MaxPrintsPerSecond, st.MaxPath = pps, m.Path
			first = false
			return nil
		}
		// strict comparisons: the first row with an extreme rate is kept
		if pps > st.MaxPrintsPerSecond {
			st.MaxPrintsPerSecond, st.MaxPath = pps, m.Path
		}
		if pps < st.MinPrintsPerSecond {
			st.MinPrintsPerSecond, st.MinPath = pps, m.Path
		}
		return nil
	})
	if err != nil {
		return Statistics{}, wrapError("stats", err)
	}

	if st.TotalDuration > 0 {
		st.AvgPrintsPerSecond = float64(st.TotalFingerprints) / st.TotalDuration
	}
	return st, nil
}

// Report writes the human-readable report for operators
func (r *StatisticsReporter) Report(ctx context.Context, w io.Writer, detailed bool) error {
	st, err := r.Collect(ctx, detailed)
	if err != nil {
		return err
	}
	return WriteReport(w, st, detailed)
}

// WriteReport renders st as the two-section text report
func WriteReport(w io.Writer, st Statistics, detailed bool) error {
	name := strings.ToUpper(st.Backend)
	var b strings.Builder

	fmt.Fprintf(&b, "[%s INDEX TOTALS]\n", name)
	b.WriteString("=========================\n")
	fmt.Fprintf(&b, "> %d fingerprint hashes\n", st.TotalRecords)
	b.WriteString("=========================\n\n")

	if detailed {
		fmt.Fprintf(&b, "[%s INDEX INFO]\n", name)
		b.WriteString("=========================\n")
		fmt.Fprintf(&b, "> %d audio files\n", st.Resources)
		fmt.Fprintf(&b, "> %.3f seconds of audio\n", st.TotalDuration)
		fmt.Fprintf(&b, "> %d fingerprint hashes\n", st.TotalFingerprints)
		fmt.Fprintf(&b, "> Avg prints per second: %5.1ffp/s\n", st.AvgPrintsPerSecond)
		fmt.Fprintf(&b, "> Min prints per second: %5.1ffp/s '%s'\n", st.MinPrintsPerSecond, st.MinPath)
		fmt.Fprintf(&b, "> Max prints per second: %5.1ffp/s '%s'\n", st.MaxPrintsPerSecond, st.MaxPath)
		b.WriteString("=========================\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
