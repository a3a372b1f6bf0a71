package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateScanJob(t *testing.T) {
	db := openTestDB(t)
	library := seedLibrary(t, db, "/library")

	assert.Error(t, ValidateScanJob(db, 999), "unknown library")
	assert.NoError(t, ValidateScanJob(db, library.ID))

	job, err := CreateScanJob(db, library.ID)
	require.NoError(t, err)
	assert.Error(t, ValidateScanJob(db, library.ID), "pending job blocks a new scan")

	require.NoError(t, UpdateJobStatus(db, job.ID, StatusRunning, ""))
	assert.Error(t, ValidateScanJob(db, library.ID), "running job blocks a new scan")

	require.NoError(t, UpdateJobStatus(db, job.ID, StatusCompleted, ""))
	assert.NoError(t, ValidateScanJob(db, library.ID), "finished job does not block")
}

func TestUpdateJobStatus_StampsTimestamps(t *testing.T) {
	db := openTestDB(t)
	library := seedLibrary(t, db, "/library")

	job, err := CreateScanJob(db, library.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusPending), job.Status)
	assert.Nil(t, job.StartedAt)

	require.NoError(t, UpdateJobStatus(db, job.ID, StatusRunning, ""))
	var running ScanJob
	require.NoError(t, db.First(&running, job.ID).Error)
	assert.Equal(t, string(StatusRunning), running.Status)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.CompletedAt)

	require.NoError(t, UpdateJobStatus(db, job.ID, StatusFailed, "disk on fire"))
	var failed ScanJob
	require.NoError(t, db.First(&failed, job.ID).Error)
	assert.Equal(t, string(StatusFailed), failed.Status)
	assert.Equal(t, "disk on fire", failed.ErrorMessage)
	require.NotNil(t, failed.CompletedAt)
}

func TestGetLibraryStatistics(t *testing.T) {
	db := openTestDB(t)
	library := seedLibrary(t, db, "/library")
	repo := NewAudiobookRepository(db)

	books := []*Audiobook{
		seedBook(library.ID, "/library/a.mp3", "A", "Tolkien", 100),
		seedBook(library.ID, "/library/b.mp3", "B", "Tolkien", 200),
		seedBook(library.ID, "/library/c.m4b", "C", "Le Guin", 300),
	}
	books[0].DurationSeconds = 60
	books[1].DurationSeconds = 120
	require.NoError(t, repo.UpsertBatch(context.Background(), books))

	stats, err := GetLibraryStatistics(db, library.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalBooks)
	assert.Equal(t, int64(600), stats.TotalSize)
	assert.Equal(t, int64(180), stats.TotalDuration)

	require.NotEmpty(t, stats.AuthorStats)
	assert.Equal(t, "Tolkien", stats.AuthorStats[0].Author)
	assert.Equal(t, int64(2), stats.AuthorStats[0].Count)

	require.Len(t, stats.ExtensionStats, 2)
	assert.Equal(t, "mp3", stats.ExtensionStats[0].Extension)
	assert.Equal(t, int64(2), stats.ExtensionStats[0].Count)
}

func TestGetLibraryStatistics_EmptyLibrary(t *testing.T) {
	db := openTestDB(t)
	library := seedLibrary(t, db, "/library")

	stats, err := GetLibraryStatistics(db, library.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalBooks)
	assert.Empty(t, stats.AuthorStats)
	assert.Empty(t, stats.ExtensionStats)
}

func TestCleanupOldScanJobs(t *testing.T) {
	db := openTestDB(t)
	library := seedLibrary(t, db, "/library")

	old := time.Now().AddDate(0, 0, -(ScanJobCleanupDays + 1))
	recent := time.Now().Add(-time.Hour)

	jobs := []*ScanJob{
		{LibraryID: library.ID, Status: string(StatusCompleted), CompletedAt: &old},
		{LibraryID: library.ID, Status: string(StatusFailed), CompletedAt: &old},
		{LibraryID: library.ID, Status: string(StatusCompleted), CompletedAt: &recent},
		{LibraryID: library.ID, Status: string(StatusRunning)},
	}
	for _, job := range jobs {
		require.NoError(t, db.Create(job).Error)
	}

	removed, err := CleanupOldScanJobs(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var remaining int64
	require.NoError(t, db.Model(&ScanJob{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
}
