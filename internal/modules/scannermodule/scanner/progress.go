package scanner

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ProgressBufferSize is the capacity of a ChannelReporter's snapshot buffer
const ProgressBufferSize = 16

// ProgressReporter receives progress snapshots during a scan and the
// terminal summary when it ends. Implementations must never block the
// scan; delivery is best-effort.
type ProgressReporter interface {
	ReportProgress(progress ScanProgress)
	ReportComplete(summary ScanSummary)
}

// NopReporter discards everything
type NopReporter struct{}

func (NopReporter) ReportProgress(ScanProgress) {}
func (NopReporter) ReportComplete(ScanSummary)  {}

// ChannelReporter pushes snapshots into a bounded channel for a UI or API
// consumer. When the channel is full the oldest snapshot is evicted so the
// consumer always sees the newest state and the scan never blocks.
type ChannelReporter struct {
	mu       sync.Mutex
	progress chan ScanProgress
	done     chan ScanSummary
	closed   bool
}

// NewChannelReporter creates a reporter with a ProgressBufferSize buffer
func NewChannelReporter() *ChannelReporter {
	return &ChannelReporter{
		progress: make(chan ScanProgress, ProgressBufferSize),
		done:     make(chan ScanSummary, 1),
	}
}

// Progress returns the snapshot channel. Single-consumer.
func (r *ChannelReporter) Progress() <-chan ScanProgress {
	return r.progress
}

// Done returns a channel that yields the terminal summary once
func (r *ChannelReporter) Done() <-chan ScanSummary {
	return r.done
}

func (r *ChannelReporter) ReportProgress(progress ScanProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.progress <- progress:
			return
		default:
		}
		// Full buffer: evict the oldest snapshot and try again
		select {
		case <-r.progress:
		default:
		}
	}
}

func (r *ChannelReporter) ReportComplete(summary ScanSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.done <- summary
	close(r.done)
	close(r.progress)
}

// LoggingReporter writes snapshots to a logger, throttled so a fast scan
// does not flood the log.
type LoggingReporter struct {
	logger   hclog.Logger
	interval time.Duration

	mu       sync.Mutex
	lastEmit time.Time
}

// NewLoggingReporter creates a reporter that logs at most once per interval
func NewLoggingReporter(logger hclog.Logger, interval time.Duration) *LoggingReporter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &LoggingReporter{logger: logger, interval: interval}
}

func (r *LoggingReporter) ReportProgress(progress ScanProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastEmit) < r.interval {
		return
	}
	r.lastEmit = time.Now()
	r.logger.Info("scan progress",
		"scanned", progress.ScannedCount,
		"found", progress.FoundCount,
		"skipped", progress.SkippedCount,
		"errors", progress.ErrorCount,
		"elapsed", progress.Elapsed.Round(time.Millisecond))
}

func (r *LoggingReporter) ReportComplete(summary ScanSummary) {
	r.logger.Info("scan complete",
		"new_files", len(summary.NewFiles),
		"scanned", summary.ScannedCount,
		"skipped", summary.SkippedCount,
		"errors", summary.ErrorCount,
		"duration", summary.ScanDuration.Round(time.Millisecond))
}

// MultiReporter fans snapshots out to several reporters
type MultiReporter []ProgressReporter

func (m MultiReporter) ReportProgress(progress ScanProgress) {
	for _, r := range m {
		r.ReportProgress(progress)
	}
}

func (m MultiReporter) ReportComplete(summary ScanSummary) {
	for _, r := range m {
		r.ReportComplete(summary)
	}
}
