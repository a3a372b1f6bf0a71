package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/metadata"
	"gorm.io/gorm"
)

// progressUpdateInterval is how often the periodic updater persists
// counters and publishes a progress event while a scan runs.
const progressUpdateInterval = 2 * time.Second

// LibraryScanner orchestrates one scan: discovery feeds a bounded
// extraction pool, successful extractions flow into the batch committer,
// and committed batches drive progress reporting. The scanner owns its
// configuration and state machine for the duration of the run.
type LibraryScanner struct {
	db        *gorm.DB
	repo      Repository
	jobID     uint32
	libraryID uint32
	config    ScanConfig
	eventBus  events.EventBus
	extractor metadata.Extractor
	reporter  ProgressReporter
	logger    hclog.Logger

	state  *stateMachine
	ctx    context.Context
	cancel context.CancelFunc
	paused atomic.Bool

	cancelRequested atomic.Bool

	filesFound   atomic.Int64
	filesScanned atomic.Int64
	filesSkipped atomic.Int64
	errorsCount  atomic.Int64
	bytesScanned atomic.Int64

	estimator *ProgressEstimator
	pool      *ExtractionPool

	startTime time.Time

	resultMu sync.Mutex
	newFiles []*database.Audiobook
	fatalErr error

	done chan struct{}
}

// NewLibraryScanner creates a scanner bound to one scan job. reporter may
// be nil for callers that only poll Progress.
func NewLibraryScanner(db *gorm.DB, jobID uint32, config ScanConfig, eventBus events.EventBus, extractor metadata.Extractor, reporter ProgressReporter, logger hclog.Logger) *LibraryScanner {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if extractor == nil {
		extractor = metadata.NewTagExtractor()
	}
	var repo Repository
	if db != nil {
		repo = database.NewAudiobookRepository(db)
	}
	return &LibraryScanner{
		db:        db,
		repo:      repo,
		jobID:     jobID,
		config:    config,
		eventBus:  eventBus,
		extractor: extractor,
		reporter:  reporter,
		logger:    logger,
		state:     newStateMachine(),
		estimator: NewProgressEstimator(),
		done:      make(chan struct{}),
	}
}

// SetRepository overrides the persistence sink, used by tests and by
// callers that manage their own repository.
func (ls *LibraryScanner) SetRepository(repo Repository) {
	ls.repo = repo
}

// State returns a snapshot of the scanner lifecycle state
func (ls *LibraryScanner) State() ScannerState {
	return ls.state.Current()
}

// Progress returns a fresh counter snapshot
func (ls *LibraryScanner) Progress() ScanProgress {
	var elapsed time.Duration
	if !ls.startTime.IsZero() {
		elapsed = time.Since(ls.startTime)
	}
	return ScanProgress{
		ScannedCount: ls.filesScanned.Load(),
		FoundCount:   ls.filesFound.Load(),
		SkippedCount: ls.filesSkipped.Load(),
		ErrorCount:   ls.errorsCount.Load(),
		BytesScanned: ls.bytesScanned.Load(),
		Elapsed:      elapsed,
	}
}

// Estimator exposes rate and ETA estimation for API consumers
func (ls *LibraryScanner) Estimator() *ProgressEstimator {
	return ls.estimator
}

// LibraryID returns the library this scanner was started against, zero
// before the first Start.
func (ls *LibraryScanner) LibraryID() uint32 {
	return ls.libraryID
}

// Start begins scanning root for the given library. Valid only from idle
// or a finished state; returns immediately once the pipeline is running.
func (ls *LibraryScanner) Start(root string, libraryID uint32) error {
	if err := ls.config.Validate(); err != nil {
		return err
	}
	if ls.repo == nil {
		return newScanError(ErrKindPersistence, "", fmt.Errorf("no repository configured"))
	}

	if err := ls.state.TransitionStart(); err != nil {
		return err
	}

	// Reset per-run state so a finished scanner can be started again
	ls.libraryID = libraryID
	ls.ctx, ls.cancel = context.WithCancel(context.Background())
	ls.paused.Store(false)
	ls.cancelRequested.Store(false)
	ls.startTime = time.Now()
	ls.filesFound.Store(0)
	ls.filesScanned.Store(0)
	ls.filesSkipped.Store(0)
	ls.errorsCount.Store(0)
	ls.bytesScanned.Store(0)
	ls.estimator = NewProgressEstimator()
	ls.done = make(chan struct{})
	ls.resultMu.Lock()
	ls.newFiles = nil
	ls.fatalErr = nil
	ls.resultMu.Unlock()

	// Preload existing records so unchanged files skip extraction
	existing, err := ls.preloadExisting()
	if err != nil {
		ls.setFatal(err)
		ls.state.Transition(StateError)
		close(ls.done)
		return err
	}

	ls.updateScanJobStatus(string(database.StatusRunning), "Starting library scan")
	ls.logger.Info("starting scan", "library_id", libraryID, "path", root, "job_id", ls.jobID,
		"workers", ls.config.MaxConcurrentTasks, "batch_size", ls.config.BatchSize)

	go ls.run(root, existing)
	return nil
}

// Pause stops admitting new extractions; in-flight work finishes and
// discovered paths stay queued. Valid only while scanning.
func (ls *LibraryScanner) Pause() error {
	if err := ls.state.Transition(StatePaused); err != nil {
		return err
	}
	ls.paused.Store(true)
	ls.updateScanJobStatus(string(database.StatusPaused), "Scan paused")
	ls.publishEvent(events.EventScanPaused, "Scan Paused",
		fmt.Sprintf("Scan job #%d paused", ls.jobID))
	ls.logger.Info("scan paused", "job_id", ls.jobID)
	return nil
}

// Resume reopens extraction admission. Valid only while paused.
func (ls *LibraryScanner) Resume() error {
	if err := ls.state.Transition(StateScanning); err != nil {
		return err
	}
	ls.paused.Store(false)
	ls.updateScanJobStatus(string(database.StatusRunning), "Scan resumed")
	ls.publishEvent(events.EventScanResumed, "Scan Resumed",
		fmt.Sprintf("Scan job #%d resumed", ls.jobID))
	ls.logger.Info("scan resumed", "job_id", ls.jobID)
	return nil
}

// Cancel stops the scan cooperatively. Buffered batches are committed
// before the scanner reaches the cancelled state; work already persisted
// is kept, not rolled back.
func (ls *LibraryScanner) Cancel() error {
	current := ls.state.Current()
	if !canTransition(current, StateCancelled) {
		return newScanError(ErrKindState, "",
			fmt.Errorf("cannot cancel from state %s", current))
	}
	ls.cancelRequested.Store(true)
	ls.paused.Store(false)
	if ls.cancel != nil {
		ls.cancel()
	}
	ls.logger.Info("scan cancellation requested", "job_id", ls.jobID)
	return nil
}

// Wait blocks until the scan reaches a terminal state. The summary
// reflects work completed so far for every terminal state; the error is
// non-nil only when the scan ended in the error state.
func (ls *LibraryScanner) Wait() (ScanSummary, error) {
	<-ls.done

	ls.resultMu.Lock()
	defer ls.resultMu.Unlock()
	summary := ScanSummary{
		NewFiles:     ls.newFiles,
		ScannedCount: ls.filesScanned.Load(),
		SkippedCount: ls.filesSkipped.Load(),
		ErrorCount:   ls.errorsCount.Load(),
		BytesScanned: ls.bytesScanned.Load(),
		ScanDuration: time.Since(ls.startTime),
	}
	return summary, ls.fatalErr
}

// run drives the discovery, extraction, and commit stages to completion
func (ls *LibraryScanner) run(root string, existing map[string]int64) {
	fileQueue := make(chan DiscoveredFile, ls.config.queueSize())
	outcomes := make(chan ExtractionOutcome, ls.config.queueSize())

	discoverer := NewFileDiscoverer(ls.config, ls.logger,
		func(path string, err error) {
			ls.errorsCount.Add(1)
		},
		func(path string, reason string) {
			ls.filesSkipped.Add(1)
		})
	discoverer.onFound = func(DiscoveredFile) {
		ls.estimator.SetTotal(ls.filesFound.Add(1))
	}

	skip := func(file DiscoveredFile) (string, bool) {
		if size, ok := existing[file.Path]; ok && size == file.Size {
			return "already in library", true
		}
		return "", false
	}
	ls.pool = NewExtractionPool(ls.extractor, ls.config, ls.libraryID, ls.logger, &ls.paused, skip)

	// Discovery stage
	discoveryErrCh := make(chan error, 1)
	go func() {
		defer close(fileQueue)
		err := discoverer.Discover(ls.ctx, root, fileQueue)
		if err != nil && ls.ctx.Err() == nil {
			discoveryErrCh <- err
		}
		close(discoveryErrCh)
	}()

	// Extraction stage
	go func() {
		defer close(outcomes)
		ls.pool.Run(ls.ctx, fileQueue, outcomes)
	}()

	// Periodic progress updates
	stopProgress := make(chan struct{})
	go ls.progressUpdater(stopProgress)

	// Commit stage: single consumer, strictly sequential batches. Commits
	// run on their own context so cancellation never abandons a batch
	// mid-write; the buffered partial batch is committed even on cancel.
	commitCtx, commitCancel := context.WithCancel(context.Background())
	defer commitCancel()
	committer := NewBatchCommitter(ls.repo, ls.config.BatchSize, ls.logger,
		ls.onBatchCommitted, ls.onBatchDemoted)

	for outcome := range outcomes {
		switch outcome.Kind {
		case OutcomeSuccess:
			committer.Add(commitCtx, outcome.Record)
		case OutcomeSkipped:
			ls.filesSkipped.Add(1)
		case OutcomeFailed:
			ls.errorsCount.Add(1)
			ls.logger.Debug("extraction failed", "path", outcome.Path, "error", outcome.Err)
		}
	}
	committer.Flush(commitCtx)

	close(stopProgress)
	ls.finalize(<-discoveryErrCh)
}

func (ls *LibraryScanner) finalize(discoveryErr error) {
	terminal := StateComplete
	switch {
	case discoveryErr != nil:
		ls.setFatal(discoveryErr)
		terminal = StateError
	case ls.fatal() != nil:
		terminal = StateError
	case ls.cancelRequested.Load():
		terminal = StateCancelled
	}

	// The pipeline may drain while the scan is paused; the terminal
	// transition resolves the pending pause in that case.
	if err := ls.state.TransitionTerminal(terminal); err != nil {
		ls.logger.Error("failed terminal transition", "target", terminal, "error", err)
	}

	progress := ls.Progress()
	switch terminal {
	case StateComplete:
		ls.updateScanJobCompletion(string(database.StatusCompleted),
			fmt.Sprintf("Scan completed: %d files, %d errors", progress.ScannedCount, progress.ErrorCount))
		ls.publishEvent(events.EventScanCompleted, "Scan Completed",
			fmt.Sprintf("Scan job #%d completed", ls.jobID))
	case StateCancelled:
		ls.updateScanJobCompletion(string(database.StatusCancelled),
			fmt.Sprintf("Scan cancelled after %d files", progress.ScannedCount))
		ls.publishEvent(events.EventScanCancelled, "Scan Cancelled",
			fmt.Sprintf("Scan job #%d cancelled", ls.jobID))
	case StateError:
		msg := "scan failed"
		if err := ls.fatal(); err != nil {
			msg = err.Error()
		}
		ls.updateScanJobCompletion(string(database.StatusFailed), msg)
		ls.publishEvent(events.EventScanFailed, "Scan Failed",
			fmt.Sprintf("Scan job #%d failed: %s", ls.jobID, msg))
	}

	ls.resultMu.Lock()
	summary := ScanSummary{
		NewFiles:     ls.newFiles,
		ScannedCount: progress.ScannedCount,
		SkippedCount: progress.SkippedCount,
		ErrorCount:   progress.ErrorCount,
		BytesScanned: progress.BytesScanned,
		ScanDuration: time.Since(ls.startTime),
	}
	ls.resultMu.Unlock()
	ls.reporter.ReportComplete(summary)

	ls.logger.Info("scan finished",
		"job_id", ls.jobID,
		"state", terminal,
		"new_files", len(summary.NewFiles),
		"scanned", summary.ScannedCount,
		"skipped", summary.SkippedCount,
		"errors", summary.ErrorCount,
		"duration", summary.ScanDuration.Round(time.Millisecond))

	if ls.cancel != nil {
		ls.cancel()
	}
	close(ls.done)
}

func (ls *LibraryScanner) onBatchCommitted(books []*database.Audiobook) {
	var bytes int64
	for _, book := range books {
		bytes += book.SizeBytes
	}

	ls.resultMu.Lock()
	ls.newFiles = append(ls.newFiles, books...)
	ls.resultMu.Unlock()

	ls.filesScanned.Add(int64(len(books)))
	ls.bytesScanned.Add(bytes)
	ls.estimator.Update(ls.filesScanned.Load(), ls.bytesScanned.Load())

	ls.reporter.ReportProgress(ls.Progress())
}

func (ls *LibraryScanner) onBatchDemoted(books []*database.Audiobook, err error) {
	ls.errorsCount.Add(int64(len(books)))
	ls.reporter.ReportProgress(ls.Progress())
}

func (ls *LibraryScanner) progressUpdater(stop <-chan struct{}) {
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ls.reporter.ReportProgress(ls.Progress())
			ls.persistProgress()
		case <-stop:
			return
		}
	}
}

func (ls *LibraryScanner) persistProgress() {
	if ls.db == nil {
		return
	}

	progress := ls.Progress()
	var pct float64
	if progress.FoundCount > 0 {
		pct = float64(progress.ScannedCount) / float64(progress.FoundCount) * 100
		if pct > 100 {
			pct = 100
		}
	}

	updates := map[string]interface{}{
		"progress":        pct,
		"files_found":     progress.FoundCount,
		"files_processed": progress.ScannedCount,
		"files_skipped":   progress.SkippedCount,
		"bytes_processed": progress.BytesScanned,
		"errors_count":    progress.ErrorCount,
		"status_message":  fmt.Sprintf("Processed %d of %d files (%d errors)", progress.ScannedCount, progress.FoundCount, progress.ErrorCount),
		"updated_at":      time.Now(),
	}
	if err := ls.db.Model(&database.ScanJob{}).Where("id = ?", ls.jobID).Updates(updates).Error; err != nil {
		ls.logger.Error("failed to persist scan progress", "job_id", ls.jobID, "error", err)
	}

	if ls.eventBus != nil {
		event := events.NewSystemEvent(
			events.EventScanProgress,
			"Scan Progress Update",
			fmt.Sprintf("Scan job #%d: %.1f%% complete", ls.jobID, pct),
		)
		event.Data = map[string]interface{}{
			"jobId":          ls.jobID,
			"libraryId":      ls.libraryID,
			"progress":       pct,
			"filesFound":     progress.FoundCount,
			"filesProcessed": progress.ScannedCount,
			"filesSkipped":   progress.SkippedCount,
			"bytesProcessed": progress.BytesScanned,
			"errorsCount":    progress.ErrorCount,
		}
		ls.eventBus.PublishAsync(event)
	}
}

func (ls *LibraryScanner) preloadExisting() (map[string]int64, error) {
	books, err := ls.repo.ListExisting(context.Background(), ls.libraryID)
	if err != nil {
		return nil, newScanError(ErrKindPersistence, "", err)
	}
	existing := make(map[string]int64, len(books))
	for _, book := range books {
		existing[book.Path] = book.SizeBytes
	}
	return existing, nil
}

func (ls *LibraryScanner) updateScanJobStatus(status, message string) {
	if ls.db == nil {
		return
	}
	updates := map[string]interface{}{
		"status":         status,
		"status_message": message,
		"updated_at":     time.Now(),
	}
	if status == string(database.StatusRunning) {
		now := time.Now()
		updates["started_at"] = &now
	}
	if err := ls.db.Model(&database.ScanJob{}).Where("id = ?", ls.jobID).Updates(updates).Error; err != nil {
		ls.logger.Error("failed to update scan job status", "job_id", ls.jobID, "status", status, "error", err)
	}
}

func (ls *LibraryScanner) updateScanJobCompletion(status, message string) {
	if ls.db == nil {
		return
	}
	ls.persistProgress()
	now := time.Now()
	updates := map[string]interface{}{
		"status":         status,
		"status_message": message,
		"completed_at":   &now,
		"updated_at":     now,
	}
	if status == string(database.StatusCompleted) {
		updates["progress"] = 100.0
	}
	if err := ls.db.Model(&database.ScanJob{}).Where("id = ?", ls.jobID).Updates(updates).Error; err != nil {
		ls.logger.Error("failed to finalize scan job", "job_id", ls.jobID, "error", err)
	}
}

func (ls *LibraryScanner) publishEvent(eventType events.EventType, title, message string) {
	if ls.eventBus == nil {
		return
	}
	event := events.NewSystemEvent(eventType, title, message)
	event.Data = map[string]interface{}{
		"jobId":     ls.jobID,
		"libraryId": ls.libraryID,
	}
	ls.eventBus.PublishAsync(event)
}

func (ls *LibraryScanner) setFatal(err error) {
	ls.resultMu.Lock()
	defer ls.resultMu.Unlock()
	if ls.fatalErr == nil {
		ls.fatalErr = err
	}
}

func (ls *LibraryScanner) fatal() error {
	ls.resultMu.Lock()
	defer ls.resultMu.Unlock()
	return ls.fatalErr
}
