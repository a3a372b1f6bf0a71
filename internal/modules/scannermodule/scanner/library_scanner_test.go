package scanner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestScanner creates a scanner with a persisted library and scan job
func newTestScanner(t *testing.T, db *gorm.DB, root string, extractor metadata.Extractor, reporter ProgressReporter) (*LibraryScanner, *database.Library, *database.ScanJob, *MockEventBus) {
	t.Helper()
	library := createTestLibrary(t, db, root)
	job, err := database.CreateScanJob(db, library.ID)
	require.NoError(t, err)

	bus := &MockEventBus{}
	ls := NewLibraryScanner(db, job.ID, testConfig(), bus, extractor, reporter, testLogger())
	return ls, library, job, bus
}

func countAudiobooks(t *testing.T, db *gorm.DB, libraryID uint32) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&database.Audiobook{}).Where("library_id = ?", libraryID).Count(&count).Error)
	return count
}

func TestLibraryScanner_FullScan(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t,
		"author1/book1.mp3",
		"author1/book2.m4b",
		"author2/book3.flac",
		"book4.ogg",
		"book5.wav",
		"cover.jpg",
	)

	ls, library, job, bus := newTestScanner(t, db, root, nil, nil)

	require.NoError(t, ls.Start(root, library.ID))
	summary, err := ls.Wait()
	require.NoError(t, err)

	assert.Equal(t, StateComplete, ls.State())
	assert.Len(t, summary.NewFiles, 5)
	assert.Equal(t, int64(5), summary.ScannedCount)
	assert.Equal(t, int64(0), summary.ErrorCount)
	assert.Greater(t, summary.BytesScanned, int64(0))

	// Records were persisted with filename-derived titles
	assert.Equal(t, int64(5), countAudiobooks(t, db, library.ID))
	var book database.Audiobook
	require.NoError(t, db.Where("path LIKE ?", "%book1.mp3").First(&book).Error)
	assert.Equal(t, "book1", book.Title)
	assert.Equal(t, library.ID, book.LibraryID)

	// Job row reached the completed state with full progress
	var updated database.ScanJob
	require.NoError(t, db.First(&updated, job.ID).Error)
	assert.Equal(t, string(database.StatusCompleted), updated.Status)
	assert.Equal(t, float64(100), updated.Progress)
	assert.NotNil(t, updated.StartedAt)
	assert.NotNil(t, updated.CompletedAt)

	assert.NotEmpty(t, bus.EventsOfType(events.EventScanCompleted))
}

func TestLibraryScanner_PerFileErrorsDoNotAbort(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3", "c.mp3")

	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		if strings.HasSuffix(path, "b.mp3") {
			return nil, errors.New("corrupt header")
		}
		return &metadata.Audiobook{Title: "ok"}, nil
	})

	ls, library, _, _ := newTestScanner(t, db, root, extractor, nil)

	require.NoError(t, ls.Start(root, library.ID))
	summary, err := ls.Wait()
	require.NoError(t, err)

	assert.Equal(t, StateComplete, ls.State())
	assert.Len(t, summary.NewFiles, 2)
	assert.Equal(t, int64(1), summary.ErrorCount)
	assert.Equal(t, int64(2), countAudiobooks(t, db, library.ID))
}

func TestLibraryScanner_MissingRootFails(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t)

	ls, library, job, bus := newTestScanner(t, db, root, nil, nil)

	require.NoError(t, ls.Start("/no/such/library", library.ID))
	_, err := ls.Wait()
	require.Error(t, err)

	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindRootAccess, kind)
	assert.Equal(t, StateError, ls.State())

	var updated database.ScanJob
	require.NoError(t, db.First(&updated, job.ID).Error)
	assert.Equal(t, string(database.StatusFailed), updated.Status)

	assert.NotEmpty(t, bus.EventsOfType(events.EventScanFailed))
}

func TestLibraryScanner_RescanSkipsUnchanged(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3", "c.mp3")

	ls, library, _, _ := newTestScanner(t, db, root, nil, nil)
	require.NoError(t, ls.Start(root, library.ID))
	_, err := ls.Wait()
	require.NoError(t, err)
	require.Equal(t, int64(3), countAudiobooks(t, db, library.ID))

	// A second scan over the same unchanged tree commits nothing new
	job2, err := database.CreateScanJob(db, library.ID)
	require.NoError(t, err)
	ls2 := NewLibraryScanner(db, job2.ID, testConfig(), nil, nil, nil, testLogger())

	require.NoError(t, ls2.Start(root, library.ID))
	summary, err := ls2.Wait()
	require.NoError(t, err)

	assert.Equal(t, StateComplete, ls2.State())
	assert.Empty(t, summary.NewFiles)
	assert.Equal(t, int64(3), summary.SkippedCount)
	assert.Equal(t, int64(3), countAudiobooks(t, db, library.ID))
}

func TestLibraryScanner_Cancel(t *testing.T) {
	db := setupTestDB(t)

	files := make([]string, 120)
	for i := range files {
		files[i] = "book" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + ".mp3"
	}
	root := createTestDirectory(t, files...)

	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		time.Sleep(5 * time.Millisecond)
		return &metadata.Audiobook{}, nil
	})

	ls, library, job, bus := newTestScanner(t, db, root, extractor, nil)

	require.NoError(t, ls.Start(root, library.ID))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ls.Cancel())

	summary, err := ls.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, ls.State())

	// Everything committed before the cancel is kept
	assert.Less(t, int64(len(summary.NewFiles)), int64(120))
	assert.Equal(t, int64(len(summary.NewFiles)), countAudiobooks(t, db, library.ID))

	var updated database.ScanJob
	require.NoError(t, db.First(&updated, job.ID).Error)
	assert.Equal(t, string(database.StatusCancelled), updated.Status)

	assert.NotEmpty(t, bus.EventsOfType(events.EventScanCancelled))
}

func TestLibraryScanner_StartWhileScanningRejected(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3", "c.mp3", "d.mp3")

	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		time.Sleep(50 * time.Millisecond)
		return &metadata.Audiobook{}, nil
	})

	ls, library, _, _ := newTestScanner(t, db, root, extractor, nil)
	require.NoError(t, ls.Start(root, library.ID))

	err := ls.Start(root, library.ID)
	require.Error(t, err)
	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindState, kind)

	require.NoError(t, ls.Cancel())
	ls.Wait()
}

func TestLibraryScanner_StartWhilePausedRejected(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3", "c.mp3", "d.mp3")

	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		time.Sleep(50 * time.Millisecond)
		return &metadata.Audiobook{}, nil
	})

	ls, library, _, _ := newTestScanner(t, db, root, extractor, nil)
	require.NoError(t, ls.Start(root, library.ID))
	require.NoError(t, ls.Pause())

	// Start must not take the resume edge; a paused scan keeps its one
	// pipeline and its counters.
	err := ls.Start(root, library.ID)
	require.Error(t, err)
	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindState, kind)
	assert.Equal(t, StatePaused, ls.State())

	require.NoError(t, ls.Cancel())
	ls.Wait()
}

func TestLibraryScanner_PauseAtQueueExhaustionCompletes(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3")

	started := make(chan struct{})
	release := make(chan struct{})
	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		close(started)
		<-release
		return &metadata.Audiobook{}, nil
	})

	ls, library, job, _ := newTestScanner(t, db, root, extractor, nil)
	require.NoError(t, ls.Start(root, library.ID))

	// The only file is in flight and the queue is drained. A pause landing
	// here must not leave the scanner paused forever once the pipeline ends.
	<-started
	require.NoError(t, ls.Pause())
	close(release)

	summary, err := ls.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateComplete, ls.State())
	assert.Len(t, summary.NewFiles, 1)

	var updated database.ScanJob
	require.NoError(t, db.First(&updated, job.ID).Error)
	assert.Equal(t, string(database.StatusCompleted), updated.Status)
}

func TestLibraryScanner_PauseAndResume(t *testing.T) {
	db := setupTestDB(t)

	files := make([]string, 60)
	for i := range files {
		files[i] = "book" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + ".mp3"
	}
	root := createTestDirectory(t, files...)

	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		time.Sleep(5 * time.Millisecond)
		return &metadata.Audiobook{}, nil
	})

	ls, library, _, bus := newTestScanner(t, db, root, extractor, nil)

	require.NoError(t, ls.Start(root, library.ID))
	require.NoError(t, ls.Pause())
	assert.Equal(t, StatePaused, ls.State())
	assert.NotEmpty(t, bus.EventsOfType(events.EventScanPaused))

	// Pausing twice is illegal
	require.Error(t, ls.Pause())

	require.NoError(t, ls.Resume())
	assert.Equal(t, StateScanning, ls.State())
	assert.NotEmpty(t, bus.EventsOfType(events.EventScanResumed))

	summary, err := ls.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateComplete, ls.State())
	assert.Len(t, summary.NewFiles, 60)
}

func TestLibraryScanner_CancelWhilePaused(t *testing.T) {
	db := setupTestDB(t)

	files := make([]string, 40)
	for i := range files {
		files[i] = "book" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + ".mp3"
	}
	root := createTestDirectory(t, files...)

	extractor := extractorFunc(func(ctx context.Context, path string) (*metadata.Audiobook, error) {
		time.Sleep(5 * time.Millisecond)
		return &metadata.Audiobook{}, nil
	})

	ls, library, _, _ := newTestScanner(t, db, root, extractor, nil)

	require.NoError(t, ls.Start(root, library.ID))
	require.NoError(t, ls.Pause())
	require.NoError(t, ls.Cancel())

	_, err := ls.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, ls.State())
}

func TestLibraryScanner_PersistenceFailureIsFatal(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3")

	ls, library, _, _ := newTestScanner(t, db, root, nil, nil)
	ls.SetRepository(&fakeRepo{listErr: errDatabaseDown})

	err := ls.Start(root, library.ID)
	require.Error(t, err)

	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindPersistence, kind)
	assert.Equal(t, StateError, ls.State())

	// Wait observes the same fatal error
	_, waitErr := ls.Wait()
	assert.Equal(t, err, waitErr)
}

func TestLibraryScanner_RestartAfterFinish(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3")

	ls, library, _, _ := newTestScanner(t, db, root, nil, nil)

	require.NoError(t, ls.Start(root, library.ID))
	first, err := ls.Wait()
	require.NoError(t, err)
	require.Len(t, first.NewFiles, 2)

	// The same scanner instance restarts from the complete state
	require.NoError(t, ls.Start(root, library.ID))
	second, err := ls.Wait()
	require.NoError(t, err)

	assert.Equal(t, StateComplete, ls.State())
	assert.Empty(t, second.NewFiles)
	assert.Equal(t, int64(2), second.SkippedCount)
}

func TestLibraryScanner_ChannelReporter(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3", "c.mp3")

	reporter := NewChannelReporter()
	ls, library, _, _ := newTestScanner(t, db, root, nil, reporter)

	require.NoError(t, ls.Start(root, library.ID))

	select {
	case summary := <-reporter.Done():
		assert.Equal(t, int64(3), summary.ScannedCount)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete")
	}

	assert.Equal(t, StateComplete, ls.State())
}

func TestLibraryScanner_CommitFailureDemotesBatch(t *testing.T) {
	db := setupTestDB(t)
	root := createTestDirectory(t, "a.mp3", "b.mp3")

	ls, library, _, _ := newTestScanner(t, db, root, nil, nil)
	// Both commit attempts for the only batch fail
	ls.SetRepository(&fakeRepo{failNext: 2})

	require.NoError(t, ls.Start(root, library.ID))
	summary, err := ls.Wait()
	require.NoError(t, err)

	// Commit failures degrade the scan, they do not abort it
	assert.Equal(t, StateComplete, ls.State())
	assert.Empty(t, summary.NewFiles)
	assert.Equal(t, int64(2), summary.ErrorCount)
}
