package scanner

import (
	"fmt"
	"runtime"
	"time"

	"github.com/pshap/abop-app-sub005/internal/config"
	"github.com/pshap/abop-app-sub005/internal/metadata"
)

const (
	// DefaultBatchSize is the number of extracted records committed per
	// transaction when no batch size is configured.
	DefaultBatchSize = 100

	// DefaultTimeout bounds a single metadata extraction.
	DefaultTimeout = 30 * time.Second

	// queueSizeMultiplier sizes the discovery queue relative to the worker
	// count so fast discovery cannot outrun slow extraction unbounded.
	queueSizeMultiplier = 4
)

// ScanConfig is the immutable per-scan configuration. Build one with
// DefaultScanConfig or a preset, adjust fields, then pass it to Start.
// A zero Timeout means extractions are unbounded.
type ScanConfig struct {
	MaxConcurrentTasks int
	BatchSize          int
	Timeout            time.Duration
	UseMmap            bool
	Extensions         map[string]bool
	MaxFileSize        int64
}

// DefaultScanConfig returns a configuration tuned for typical libraries:
// one worker per CPU, batches of 100, a 30 second extraction timeout, and
// the standard audiobook extension set.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxConcurrentTasks: runtime.NumCPU(),
		BatchSize:          DefaultBatchSize,
		Timeout:            DefaultTimeout,
		UseMmap:            true,
		Extensions:         extensionSet(metadata.DefaultExtensions()),
		MaxFileSize:        4 << 30,
	}
}

// ForLargeLibraries returns a configuration with larger batches and double
// the worker count, trading memory for throughput on big collections.
func ForLargeLibraries() ScanConfig {
	cfg := DefaultScanConfig()
	cfg.MaxConcurrentTasks = runtime.NumCPU() * 2
	cfg.BatchSize = 500
	cfg.Timeout = 60 * time.Second
	return cfg
}

// ForSmallLibraries returns a configuration with small batches so progress
// is visible quickly on short scans.
func ForSmallLibraries() ScanConfig {
	cfg := DefaultScanConfig()
	cfg.BatchSize = 10
	cfg.Timeout = 10 * time.Second
	return cfg
}

// Conservative returns a low-impact configuration suitable for scanning
// while the host is busy with other work.
func Conservative() ScanConfig {
	cfg := DefaultScanConfig()
	cfg.MaxConcurrentTasks = 1
	cfg.BatchSize = 25
	cfg.UseMmap = false
	return cfg
}

// FromSettings builds a ScanConfig from the application scanner settings,
// filling unset fields with defaults.
func FromSettings(settings config.ScannerConfig) ScanConfig {
	cfg := DefaultScanConfig()
	if settings.MaxConcurrentTasks > 0 {
		cfg.MaxConcurrentTasks = settings.MaxConcurrentTasks
	}
	if settings.BatchSize > 0 {
		cfg.BatchSize = settings.BatchSize
	}
	if settings.Timeout > 0 {
		cfg.Timeout = settings.Timeout
	}
	cfg.UseMmap = settings.UseMmap
	if len(settings.Extensions) > 0 {
		cfg.Extensions = extensionSet(settings.Extensions)
	}
	if settings.MaxFileSize > 0 {
		cfg.MaxFileSize = settings.MaxFileSize
	}
	return cfg
}

// Validate fails fast on configurations that would deadlock or misbehave
func (c ScanConfig) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return newScanError(ErrKindConfig, "", fmt.Errorf("max_concurrent_tasks must be at least 1, got %d", c.MaxConcurrentTasks))
	}
	if c.BatchSize < 1 {
		return newScanError(ErrKindConfig, "", fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize))
	}
	if c.Timeout < 0 {
		return newScanError(ErrKindConfig, "", fmt.Errorf("timeout must not be negative, got %v", c.Timeout))
	}
	if c.MaxFileSize < 0 {
		return newScanError(ErrKindConfig, "", fmt.Errorf("max_file_size must not be negative, got %d", c.MaxFileSize))
	}
	if len(c.Extensions) == 0 {
		return newScanError(ErrKindConfig, "", fmt.Errorf("at least one extension is required"))
	}
	return nil
}

// queueSize returns the capacity of the discovery-to-extraction queue
func (c ScanConfig) queueSize() int {
	return c.MaxConcurrentTasks * queueSizeMultiplier
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[metadata.NormalizeExtension(ext)] = true
	}
	return set
}
