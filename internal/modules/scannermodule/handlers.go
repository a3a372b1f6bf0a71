package scannermodule

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pshap/abop-app-sub005/internal/database"
	"gorm.io/gorm"
)

func parseID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint32(id), true
}

// listLibraries returns all registered libraries
func (m *Module) listLibraries(c *gin.Context) {
	var libraries []database.Library
	if err := m.db.Order("name").Find(&libraries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"libraries": libraries})
}

// createLibrary registers a directory tree as an audiobook library
func (m *Module) createLibrary(c *gin.Context) {
	var req database.LibraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid library request: " + err.Error()})
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is not an accessible directory"})
		return
	}

	library := database.Library{Name: req.Name, Path: req.Path}
	if err := m.db.Create(&library).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "failed to create library: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, library)
}

// getLibrary returns a single library
func (m *Module) getLibrary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var library database.Library
	if err := m.db.First(&library, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "library not found"})
		return
	}
	c.JSON(http.StatusOK, library)
}

// deleteLibrary removes a library and its audiobooks
func (m *Module) deleteLibrary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if m.scannerManager.HasActiveScanForLibrary(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "library has an active scan"})
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("library_id = ?", id).Delete(&database.Audiobook{}).Error; err != nil {
			return err
		}
		return tx.Delete(&database.Library{}, id).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "library deleted"})
}

// getLibraryStats returns aggregate statistics for a library
func (m *Module) getLibraryStats(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	stats, err := m.scannerManager.GetLibraryStats(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// startScan starts a scan for a library
func (m *Module) startScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	scanJob, err := m.scannerManager.StartScan(id)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"scan_job": scanJob,
		"message":  "scan started",
	})
}

// getGeneralStatus returns the overall scanner state
func (m *Module) getGeneralStatus(c *gin.Context) {
	var activeJobs []database.ScanJob
	err := m.db.Where("status IN ?", []string{
		string(database.StatusRunning),
		string(database.StatusPaused),
	}).Find(&activeJobs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := "idle"
	if len(activeJobs) > 0 {
		status = "scanning"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"active_jobs":  len(activeJobs),
		"in_memory":    m.scannerManager.GetActiveScanCount(),
		"scanner_id":   m.ID(),
		"scanner_name": m.Name(),
	})
}

// getSystemLoad returns host load metrics
func (m *Module) getSystemLoad(c *gin.Context) {
	c.JSON(http.StatusOK, m.scannerManager.GetSystemLoad())
}

// getMonitoringStatus returns the file monitor state per library
func (m *Module) getMonitoringStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"monitored_libraries": m.scannerManager.GetMonitoringStatus(),
	})
}

// listScanJobs returns all scan jobs
func (m *Module) listScanJobs(c *gin.Context) {
	jobs, err := m.scannerManager.GetAllScans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// getScanStatus returns the status of a specific scan job
func (m *Module) getScanStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := m.scannerManager.GetScanStatus(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan job not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// cancelScan cancels a scan job; the partial batch is committed before
// the job goes terminal, so the response carries the final summary.
func (m *Module) cancelScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	summary, err := m.scannerManager.CancelScan(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "scan cancelled",
		"summary": gin.H{
			"new_files":     len(summary.NewFiles),
			"scanned_count": summary.ScannedCount,
			"skipped_count": summary.SkippedCount,
			"error_count":   summary.ErrorCount,
			"bytes_scanned": summary.BytesScanned,
			"duration":      summary.ScanDuration.String(),
		},
	})
}

// pauseScan pauses a running scan job
func (m *Module) pauseScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := m.scannerManager.PauseScan(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "scan paused"})
}

// resumeScan resumes a paused or interrupted scan job
func (m *Module) resumeScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := m.scannerManager.ResumeScan(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "scan resumed"})
}

// getScanProgress returns live progress for a scan job, falling back to
// the persisted job row when the scan is no longer in memory.
func (m *Module) getScanProgress(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	detailed, err := m.scannerManager.GetDetailedScanProgress(id)
	if err != nil {
		scanJob, dbErr := m.scannerManager.GetScanStatus(id)
		if dbErr != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan job not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"state":           scanJob.Status,
			"progress":        scanJob.Progress,
			"files_found":     scanJob.FilesFound,
			"files_processed": scanJob.FilesProcessed,
			"files_skipped":   scanJob.FilesSkipped,
			"bytes_processed": scanJob.BytesProcessed,
			"errors_count":    scanJob.ErrorsCount,
		})
		return
	}

	c.JSON(http.StatusOK, detailed)
}

// cancelAllScans pauses every active scan job
func (m *Module) cancelAllScans(c *gin.Context) {
	count, err := m.scannerManager.CancelAllScans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "all scans paused",
		"paused_count": count,
	})
}
