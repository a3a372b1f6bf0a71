package scanner

import (
	"time"

	"github.com/pshap/abop-app-sub005/internal/database"
)

// DiscoveredFile is a candidate produced by discovery before any expensive
// work happens. It lives only between the discovery and extraction stages.
type DiscoveredFile struct {
	Path      string
	Size      int64
	Extension string
}

// OutcomeKind tags the result of one extraction attempt
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

// ExtractionOutcome is the tagged result for one discovered file. Every
// discovered file yields exactly one outcome; none are silently dropped.
type ExtractionOutcome struct {
	Kind   OutcomeKind
	Record *database.Audiobook
	Path   string
	Size   int64
	Reason string
	Err    error
}

func successOutcome(record *database.Audiobook, size int64) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeSuccess, Record: record, Path: record.Path, Size: size}
}

func skippedOutcome(path, reason string) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeSkipped, Path: path, Reason: reason}
}

func failedOutcome(path string, err error) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeFailed, Path: path, Err: err}
}

// ScanProgress is a point-in-time snapshot of scan counters. Each snapshot
// is an independent value; counters never decrease within one scan.
type ScanProgress struct {
	ScannedCount int64         `json:"scanned_count"`
	FoundCount   int64         `json:"found_count"`
	SkippedCount int64         `json:"skipped_count"`
	ErrorCount   int64         `json:"error_count"`
	BytesScanned int64         `json:"bytes_scanned"`
	Elapsed      time.Duration `json:"elapsed"`
}

// ScanSummary is the terminal, immutable result of one scan. It is
// produced exactly once, for every terminal state; cancellation keeps
// whatever was committed before the cancel.
type ScanSummary struct {
	NewFiles     []*database.Audiobook `json:"new_files"`
	ScannedCount int64                 `json:"scanned_count"`
	SkippedCount int64                 `json:"skipped_count"`
	ErrorCount   int64                 `json:"error_count"`
	BytesScanned int64                 `json:"bytes_scanned"`
	ScanDuration time.Duration         `json:"scan_duration"`
}
