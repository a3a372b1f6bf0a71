package database

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ScanJobStatus represents the possible states of a scan job row
type ScanJobStatus string

const (
	StatusPending   ScanJobStatus = "pending"
	StatusRunning   ScanJobStatus = "running"
	StatusPaused    ScanJobStatus = "paused"
	StatusCompleted ScanJobStatus = "completed"
	StatusCancelled ScanJobStatus = "cancelled"
	StatusFailed    ScanJobStatus = "failed"
)

// ScanJobCleanupDays defines how many days old finished jobs are kept
const ScanJobCleanupDays = 30

// ValidateScanJob checks if a scan job can be started for the given library.
func ValidateScanJob(db *gorm.DB, libraryID uint32) error {
	var library Library
	if err := db.First(&library, libraryID).Error; err != nil {
		return fmt.Errorf("library not found: %w", err)
	}

	var existing ScanJob
	err := db.Where("library_id = ? AND status IN ?", libraryID, []string{
		string(StatusPending),
		string(StatusRunning),
	}).First(&existing).Error

	if err == nil {
		return fmt.Errorf("scan already running for library %d (job ID: %d)", libraryID, existing.ID)
	} else if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("database error while checking for existing scans: %w", err)
	}

	return nil
}

// CreateScanJob creates a new pending scan job row.
func CreateScanJob(db *gorm.DB, libraryID uint32) (*ScanJob, error) {
	job := ScanJob{
		LibraryID: libraryID,
		Status:    string(StatusPending),
	}
	if err := db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to create scan job: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus updates the status of a scan job and stamps the relevant
// transition timestamp.
func UpdateJobStatus(db *gorm.DB, jobID uint32, status ScanJobStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status": string(status),
	}
	if errorMsg != "" {
		updates["error_message"] = errorMsg
	}

	now := time.Now()
	switch status {
	case StatusRunning:
		updates["started_at"] = &now
		updates["resumed_at"] = &now
	case StatusCompleted, StatusCancelled, StatusFailed:
		updates["completed_at"] = &now
	}

	return db.Model(&ScanJob{}).Where("id = ?", jobID).Updates(updates).Error
}

// LibraryStats represents statistics for a scanned library
type LibraryStats struct {
	TotalBooks     int64           `json:"total_books"`
	TotalSize      int64           `json:"total_size"`
	TotalDuration  int64           `json:"total_duration_seconds"`
	AuthorStats    []AuthorStat    `json:"author_stats"`
	ExtensionStats []ExtensionStat `json:"extension_stats"`
}

// AuthorStat represents audiobook count by author
type AuthorStat struct {
	Author string `json:"author"`
	Count  int64  `json:"count"`
}

// ExtensionStat represents audiobook count by file extension
type ExtensionStat struct {
	Extension string `json:"extension"`
	Count     int64  `json:"count"`
}

// GetLibraryStatistics calculates and returns statistics for a library.
func GetLibraryStatistics(db *gorm.DB, libraryID uint32) (*LibraryStats, error) {
	var totals struct {
		TotalBooks    int64
		TotalSize     int64
		TotalDuration int64
	}

	err := db.Model(&Audiobook{}).
		Where("library_id = ?", libraryID).
		Select("COUNT(*) as total_books, COALESCE(SUM(size_bytes), 0) as total_size, COALESCE(SUM(duration_seconds), 0) as total_duration").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get basic library stats: %w", err)
	}

	var authorStats []AuthorStat
	err = db.Model(&Audiobook{}).
		Where("library_id = ? AND author <> ''", libraryID).
		Select("author, COUNT(*) as count").
		Group("author").
		Order("count DESC").
		Limit(10).
		Scan(&authorStats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get author stats: %w", err)
	}

	// Extensions are counted in Go because SQLite and Postgres have no
	// common SQL for suffix extraction.
	var paths []string
	err = db.Model(&Audiobook{}).
		Where("library_id = ?", libraryID).
		Pluck("path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get extension stats: %w", err)
	}

	counts := make(map[string]int64)
	for _, p := range paths {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
		if ext != "" {
			counts[ext]++
		}
	}
	extensionStats := make([]ExtensionStat, 0, len(counts))
	for ext, count := range counts {
		extensionStats = append(extensionStats, ExtensionStat{Extension: ext, Count: count})
	}
	sort.Slice(extensionStats, func(i, j int) bool {
		return extensionStats[i].Count > extensionStats[j].Count
	})
	if len(extensionStats) > 10 {
		extensionStats = extensionStats[:10]
	}

	return &LibraryStats{
		TotalBooks:     totals.TotalBooks,
		TotalSize:      totals.TotalSize,
		TotalDuration:  totals.TotalDuration,
		AuthorStats:    authorStats,
		ExtensionStats: extensionStats,
	}, nil
}

// CleanupOldScanJobs removes finished scan jobs older than the retention
// window. Returns the number of jobs removed.
func CleanupOldScanJobs(db *gorm.DB) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -ScanJobCleanupDays)

	result := db.Where("status IN ? AND completed_at < ?", []string{
		string(StatusCompleted),
		string(StatusCancelled),
		string(StatusFailed),
	}, cutoff).Delete(&ScanJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup old scan jobs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
