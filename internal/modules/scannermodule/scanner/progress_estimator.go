package scanner

import (
	"sync"
	"time"
)

// ProgressEstimator computes completion percentage, ETA, and processing
// rate from the scan counters. Rates are smoothed over a window of recent
// samples so the ETA does not jump around on bursty extractions.
type ProgressEstimator struct {
	mu        sync.RWMutex
	startTime time.Time

	totalFiles     int64
	processedFiles int64
	processedBytes int64

	recentSamples []rateSample
	maxSamples    int

	smoothingFactor float64
	currentRate     float64
}

type rateSample struct {
	timestamp time.Time
	files     int64
}

// NewProgressEstimator creates an estimator anchored at the current time
func NewProgressEstimator() *ProgressEstimator {
	return &ProgressEstimator{
		startTime:       time.Now(),
		maxSamples:      10,
		smoothingFactor: 0.3,
		recentSamples:   make([]rateSample, 0, 10),
	}
}

// SetTotal sets the expected number of files. Discovery keeps raising this
// while the walk is still running.
func (pe *ProgressEstimator) SetTotal(files int64) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.totalFiles = files
}

// Update records the current processed counts and refreshes the rate
func (pe *ProgressEstimator) Update(processedFiles, processedBytes int64) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	now := time.Now()
	pe.recentSamples = append(pe.recentSamples, rateSample{timestamp: now, files: processedFiles})
	if len(pe.recentSamples) > pe.maxSamples {
		pe.recentSamples = pe.recentSamples[len(pe.recentSamples)-pe.maxSamples:]
	}

	pe.processedFiles = processedFiles
	pe.processedBytes = processedBytes
	pe.calculateRate()
}

func (pe *ProgressEstimator) calculateRate() {
	if len(pe.recentSamples) < 2 {
		return
	}

	oldest := pe.recentSamples[0]
	newest := pe.recentSamples[len(pe.recentSamples)-1]

	duration := newest.timestamp.Sub(oldest.timestamp).Seconds()
	if duration <= 0 {
		return
	}

	filesPerSecond := float64(newest.files-oldest.files) / duration
	if pe.currentRate == 0 {
		pe.currentRate = filesPerSecond
	} else {
		pe.currentRate = pe.smoothingFactor*filesPerSecond + (1-pe.smoothingFactor)*pe.currentRate
	}
}

// GetEstimate returns the completion percentage, ETA, and files per second
func (pe *ProgressEstimator) GetEstimate() (progress float64, eta time.Time, filesPerSecond float64) {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	if pe.totalFiles > 0 {
		progress = float64(pe.processedFiles) / float64(pe.totalFiles) * 100
		if progress > 100 {
			progress = 100
		}
	}

	if pe.currentRate > 0 && pe.processedFiles < pe.totalFiles {
		remaining := float64(pe.totalFiles-pe.processedFiles) / pe.currentRate
		eta = time.Now().Add(time.Duration(remaining * float64(time.Second)))
	} else if progress > 0 && progress < 100 {
		// Linear fallback from overall elapsed time
		elapsed := time.Since(pe.startTime).Seconds()
		if elapsed > 0 {
			remaining := elapsed*(100/progress) - elapsed
			eta = time.Now().Add(time.Duration(remaining * float64(time.Second)))
		}
	}

	return progress, eta, pe.currentRate
}

// GetStats returns detailed throughput statistics for API consumers
func (pe *ProgressEstimator) GetStats() map[string]interface{} {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	elapsed := time.Since(pe.startTime)
	stats := map[string]interface{}{
		"processed_files":  pe.processedFiles,
		"total_files":      pe.totalFiles,
		"processed_bytes":  pe.processedBytes,
		"elapsed_time":     elapsed.String(),
		"files_per_second": pe.currentRate,
	}

	if pe.processedFiles > 0 {
		stats["average_file_size"] = float64(pe.processedBytes) / float64(pe.processedFiles)
	}
	if elapsed.Seconds() > 0 {
		stats["throughput_mbps"] = float64(pe.processedBytes) / elapsed.Seconds() / (1024 * 1024)
	}

	return stats
}
