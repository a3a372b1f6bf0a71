package scanner

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/metadata"
	"gorm.io/gorm"
)

// Manager coordinates scan jobs across libraries. It owns the active
// scanner instances, persists job rows, and runs the file monitor that
// watches completed libraries for changes.
type Manager struct {
	db        *gorm.DB
	eventBus  events.EventBus
	extractor metadata.Extractor
	config    ScanConfig
	logger    hclog.Logger

	scanners   map[uint32]*LibraryScanner
	scannersMu sync.RWMutex

	fileMonitor *FileMonitor
	sysMonitor  *SystemLoadMonitor
}

// NewManager creates a scanner manager. The config is the template for
// every scan it starts.
func NewManager(db *gorm.DB, eventBus events.EventBus, config ScanConfig, logger hclog.Logger) *Manager {
	m := &Manager{
		db:         db,
		eventBus:   eventBus,
		extractor:  metadata.NewTagExtractor(),
		config:     config,
		logger:     logger,
		scanners:   make(map[uint32]*LibraryScanner),
		sysMonitor: NewSystemLoadMonitor(),
	}

	fileMonitor, err := NewFileMonitor(db, eventBus, logger.Named("monitor"))
	if err != nil {
		logger.Error("failed to create file monitor", "error", err)
	} else {
		m.fileMonitor = fileMonitor
	}

	return m
}

// StartScan creates a scan job for the library and starts it. Fails when
// the library does not exist or already has an active scan.
func (m *Manager) StartScan(libraryID uint32) (*database.ScanJob, error) {
	m.scannersMu.Lock()
	defer m.scannersMu.Unlock()

	if err := database.ValidateScanJob(m.db, libraryID); err != nil {
		return nil, err
	}

	var library database.Library
	if err := m.db.First(&library, libraryID).Error; err != nil {
		return nil, fmt.Errorf("library not found: %w", err)
	}

	scanJob, err := database.CreateScanJob(m.db, libraryID)
	if err != nil {
		return nil, err
	}

	if m.eventBus != nil {
		startEvent := events.NewSystemEvent(
			events.EventScanStarted,
			"Library Scan Started",
			fmt.Sprintf("Starting scan for library #%d at %s", libraryID, library.Path),
		)
		startEvent.Data = map[string]interface{}{
			"libraryId": libraryID,
			"jobId":     scanJob.ID,
			"path":      library.Path,
		}
		m.eventBus.PublishAsync(startEvent)
	}

	reporter := NewLoggingReporter(m.logger.Named("progress"), 2*time.Second)
	ls := NewLibraryScanner(m.db, scanJob.ID, m.scanConfigForLoad(), m.eventBus, m.extractor, reporter, m.logger.Named("scan"))
	m.scanners[scanJob.ID] = ls

	if err := ls.Start(library.Path, libraryID); err != nil {
		delete(m.scanners, scanJob.ID)
		database.UpdateJobStatus(m.db, scanJob.ID, database.StatusFailed, err.Error())
		return nil, err
	}

	go m.reapScanner(ls, scanJob.ID, libraryID)

	return scanJob, nil
}

// scanConfigForLoad returns the scan config, with the worker count halved
// when the host is already under load.
func (m *Manager) scanConfigForLoad() ScanConfig {
	cfg := m.config
	if m.sysMonitor == nil || m.sysMonitor.ShouldScaleUp() {
		return cfg
	}
	workers := cfg.MaxConcurrentTasks
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > 1 {
		workers /= 2
	}
	cfg.MaxConcurrentTasks = workers
	m.logger.Warn("host under load, reducing scan concurrency", "workers", workers)
	return cfg
}

// reapScanner waits for a scan to finish and cleans up the active entry
func (m *Manager) reapScanner(ls *LibraryScanner, jobID, libraryID uint32) {
	summary, err := ls.Wait()
	m.removeScanner(jobID)

	if err != nil {
		m.logger.Error("scan ended with fatal error", "job_id", jobID, "error", err)
		return
	}

	if ls.State() == StateComplete && m.fileMonitor != nil {
		if err := m.fileMonitor.StartMonitoring(libraryID, jobID); err != nil {
			m.logger.Error("failed to start file monitoring", "library_id", libraryID, "job_id", jobID, "error", err)
		}
	}

	m.logger.Info("scan job reaped", "job_id", jobID, "new_files", len(summary.NewFiles))
}

// PauseScan pauses a running scan; it can be resumed with ResumeScan
func (m *Manager) PauseScan(jobID uint32) error {
	m.scannersMu.RLock()
	ls, exists := m.scanners[jobID]
	m.scannersMu.RUnlock()

	if !exists {
		return fmt.Errorf("no active scanner for job %d", jobID)
	}
	return ls.Pause()
}

// ResumeScan resumes a paused scan
func (m *Manager) ResumeScan(jobID uint32) error {
	m.scannersMu.RLock()
	ls, exists := m.scanners[jobID]
	m.scannersMu.RUnlock()

	if exists {
		return ls.Resume()
	}

	// No live scanner; a paused or interrupted job restarts from the top.
	// The dedup preload keeps already committed files from duplicating.
	var scanJob database.ScanJob
	if err := m.db.Preload("Library").First(&scanJob, jobID).Error; err != nil {
		return fmt.Errorf("scan job not found: %w", err)
	}
	switch scanJob.Status {
	case string(database.StatusPaused), string(database.StatusPending), string(database.StatusFailed):
	default:
		return fmt.Errorf("cannot resume scan job with status: %s", scanJob.Status)
	}

	reporter := NewLoggingReporter(m.logger.Named("progress"), 2*time.Second)
	ls = NewLibraryScanner(m.db, jobID, m.scanConfigForLoad(), m.eventBus, m.extractor, reporter, m.logger.Named("scan"))

	m.scannersMu.Lock()
	m.scanners[jobID] = ls
	m.scannersMu.Unlock()

	if err := ls.Start(scanJob.Library.Path, scanJob.LibraryID); err != nil {
		m.removeScanner(jobID)
		return err
	}

	if m.eventBus != nil {
		resumeEvent := events.NewSystemEvent(
			events.EventScanResumed,
			"Library Scan Resumed",
			fmt.Sprintf("Resumed scan job #%d for library #%d", jobID, scanJob.LibraryID),
		)
		resumeEvent.Data = map[string]interface{}{
			"libraryId": scanJob.LibraryID,
			"jobId":     jobID,
			"path":      scanJob.Library.Path,
		}
		m.eventBus.PublishAsync(resumeEvent)
	}

	go m.reapScanner(ls, jobID, scanJob.LibraryID)
	return nil
}

// CancelScan cancels a scan and waits for its terminal summary
func (m *Manager) CancelScan(jobID uint32) (ScanSummary, error) {
	m.scannersMu.RLock()
	ls, exists := m.scanners[jobID]
	m.scannersMu.RUnlock()

	if !exists {
		// Not active; mark the job row cancelled directly
		var scanJob database.ScanJob
		if err := m.db.First(&scanJob, jobID).Error; err != nil {
			return ScanSummary{}, fmt.Errorf("scan job not found: %w", err)
		}
		return ScanSummary{}, database.UpdateJobStatus(m.db, jobID, database.StatusCancelled, "Cancelled while inactive")
	}

	if err := ls.Cancel(); err != nil {
		return ScanSummary{}, err
	}
	summary, err := ls.Wait()
	return summary, err
}

// GetScanStatus returns the persisted state of a scan job
func (m *Manager) GetScanStatus(jobID uint32) (*database.ScanJob, error) {
	var scanJob database.ScanJob
	if err := m.db.Preload("Library").First(&scanJob, jobID).Error; err != nil {
		return nil, fmt.Errorf("scan job not found: %w", err)
	}
	return &scanJob, nil
}

// GetAllScans returns all scan jobs, newest first
func (m *Manager) GetAllScans() ([]database.ScanJob, error) {
	var scanJobs []database.ScanJob
	if err := m.db.Preload("Library").Order("created_at DESC").Find(&scanJobs).Error; err != nil {
		return nil, fmt.Errorf("failed to get scan jobs: %w", err)
	}
	return scanJobs, nil
}

// HasActiveScanForLibrary reports whether a live scanner exists for the library
func (m *Manager) HasActiveScanForLibrary(libraryID uint32) bool {
	m.scannersMu.RLock()
	defer m.scannersMu.RUnlock()
	for _, ls := range m.scanners {
		if ls.LibraryID() == libraryID && ls.State().IsActive() {
			return true
		}
	}
	return false
}

// GetActiveScanCount returns the number of scans currently in memory
func (m *Manager) GetActiveScanCount() int {
	m.scannersMu.RLock()
	defer m.scannersMu.RUnlock()
	return len(m.scanners)
}

// GetScanProgress returns live progress for an active scan job
func (m *Manager) GetScanProgress(jobID uint32) (ScanProgress, float64, time.Time, error) {
	m.scannersMu.RLock()
	ls, exists := m.scanners[jobID]
	m.scannersMu.RUnlock()

	if !exists {
		return ScanProgress{}, 0, time.Time{}, fmt.Errorf("no active scanner for job %d", jobID)
	}

	pct, eta, _ := ls.Estimator().GetEstimate()
	return ls.Progress(), pct, eta, nil
}

// GetDetailedScanProgress returns progress plus throughput statistics
func (m *Manager) GetDetailedScanProgress(jobID uint32) (map[string]interface{}, error) {
	m.scannersMu.RLock()
	ls, exists := m.scanners[jobID]
	m.scannersMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no active scanner for job %d", jobID)
	}

	pct, eta, filesPerSec := ls.Estimator().GetEstimate()
	progress := ls.Progress()

	result := map[string]interface{}{
		"state":          ls.State().String(),
		"progress":       pct,
		"eta":            eta.Format(time.RFC3339),
		"files_per_sec":  filesPerSec,
		"scanned_count":  progress.ScannedCount,
		"found_count":    progress.FoundCount,
		"skipped_count":  progress.SkippedCount,
		"error_count":    progress.ErrorCount,
		"bytes_scanned":  progress.BytesScanned,
		"elapsed":        progress.Elapsed.String(),
	}
	for k, v := range ls.Estimator().GetStats() {
		result[k] = v
	}
	if m.sysMonitor != nil {
		cpuUsage, memUsage, ioWait := m.sysMonitor.GetMetrics()
		result["system_cpu_percent"] = cpuUsage
		result["system_memory_percent"] = memUsage
		result["system_io_wait_percent"] = ioWait
		result["system_load_score"] = m.sysMonitor.GetLoadScore()
	}
	return result, nil
}

// GetSystemLoad returns current host load metrics and hardware info
func (m *Manager) GetSystemLoad() map[string]interface{} {
	if m.sysMonitor == nil {
		return map[string]interface{}{}
	}
	cpuUsage, memUsage, ioWait := m.sysMonitor.GetMetrics()
	info := m.sysMonitor.GetSystemInfo()
	info["cpu_percent"] = cpuUsage
	info["memory_percent"] = memUsage
	info["io_wait_percent"] = ioWait
	info["load_score"] = m.sysMonitor.GetLoadScore()
	return info
}

// CancelAllScans pauses every active scan, for graceful shutdown.
// Paused jobs can be resumed after restart.
func (m *Manager) CancelAllScans() (int, error) {
	m.scannersMu.Lock()
	defer m.scannersMu.Unlock()

	count := 0
	for jobID, ls := range m.scanners {
		if err := ls.Pause(); err != nil {
			m.logger.Warn("failed to pause scan during shutdown", "job_id", jobID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// RecoverOrphanedJobs marks jobs left in the running state by a previous
// process as paused so they can be resumed.
func (m *Manager) RecoverOrphanedJobs() error {
	var orphaned []database.ScanJob
	if err := m.db.Where("status = ?", string(database.StatusRunning)).Find(&orphaned).Error; err != nil {
		return fmt.Errorf("failed to query orphaned jobs: %w", err)
	}

	for _, job := range orphaned {
		msg := fmt.Sprintf("Interrupted by restart after %d/%d files", job.FilesProcessed, job.FilesFound)
		if err := database.UpdateJobStatus(m.db, job.ID, database.StatusPaused, ""); err != nil {
			m.logger.Error("failed to recover orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		m.db.Model(&database.ScanJob{}).Where("id = ?", job.ID).Update("status_message", msg)
		m.logger.Info("recovered orphaned scan job", "job_id", job.ID, "library_id", job.LibraryID)
	}
	return nil
}

// CleanupOldJobs removes finished jobs past the retention window
func (m *Manager) CleanupOldJobs() (int64, error) {
	return database.CleanupOldScanJobs(m.db)
}

// GetLibraryStats returns aggregate statistics for a scanned library
func (m *Manager) GetLibraryStats(libraryID uint32) (*database.LibraryStats, error) {
	return database.GetLibraryStatistics(m.db, libraryID)
}

// StartFileMonitoring starts the filesystem change monitor
func (m *Manager) StartFileMonitoring() error {
	if m.fileMonitor == nil {
		return fmt.Errorf("file monitor not available")
	}
	return m.fileMonitor.Start()
}

// GetMonitoringStatus returns the monitored libraries keyed by library ID
func (m *Manager) GetMonitoringStatus() map[uint32]*MonitoredLibrary {
	if m.fileMonitor == nil {
		return make(map[uint32]*MonitoredLibrary)
	}
	return m.fileMonitor.GetMonitoringStatus()
}

// Shutdown pauses all active scans and stops the file monitor
func (m *Manager) Shutdown() error {
	count, err := m.CancelAllScans()
	if err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	if m.fileMonitor != nil {
		if err := m.fileMonitor.Stop(); err != nil {
			m.logger.Error("error stopping file monitor", "error", err)
		}
	}
	if m.sysMonitor != nil {
		m.sysMonitor.Stop()
	}

	m.logger.Info("scan manager shut down", "paused_scans", count)
	return nil
}

func (m *Manager) removeScanner(jobID uint32) {
	m.scannersMu.Lock()
	defer m.scannersMu.Unlock()
	delete(m.scanners, jobID)
}
