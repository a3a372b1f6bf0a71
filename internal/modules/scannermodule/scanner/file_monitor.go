package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/metadata"
	"gorm.io/gorm"
)

// FileMonitor watches fully scanned libraries for filesystem changes and
// keeps the database in sync without a full re-scan.
type FileMonitor struct {
	db        *gorm.DB
	eventBus  events.EventBus
	extractor metadata.Extractor
	logger    hclog.Logger

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	monitoredLibraries map[uint32]*MonitoredLibrary

	eventQueue       chan fileEvent
	debounceInterval time.Duration
}

// MonitoredLibrary tracks a single watched library
type MonitoredLibrary struct {
	ID             uint32
	Path           string
	LastScanJobID  uint32
	StartTime      time.Time
	FilesProcessed int64
	Status         string
}

type fileEvent struct {
	op        fsnotify.Op
	path      string
	libraryID uint32
}

// NewFileMonitor creates a monitor; Start begins watching
func NewFileMonitor(db *gorm.DB, eventBus events.EventBus, logger hclog.Logger) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileMonitor{
		db:                 db,
		eventBus:           eventBus,
		extractor:          metadata.NewTagExtractor(),
		logger:             logger,
		watcher:            watcher,
		ctx:                ctx,
		cancel:             cancel,
		monitoredLibraries: make(map[uint32]*MonitoredLibrary),
		eventQueue:         make(chan fileEvent, 1000),
		debounceInterval:   2 * time.Second,
	}, nil
}

// Start begins the event loops
func (fm *FileMonitor) Start() error {
	fm.wg.Add(1)
	go fm.watchEvents()

	fm.wg.Add(1)
	go fm.processFileEvents()

	fm.logger.Info("file monitor started")
	return nil
}

// Stop closes the watcher and waits for loops to drain
func (fm *FileMonitor) Stop() error {
	fm.cancel()
	if fm.watcher != nil {
		fm.watcher.Close()
	}
	fm.wg.Wait()
	fm.logger.Info("file monitor stopped")
	return nil
}

// StartMonitoring begins watching a library, typically after a completed scan
func (fm *FileMonitor) StartMonitoring(libraryID, scanJobID uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var library database.Library
	if err := fm.db.First(&library, libraryID).Error; err != nil {
		return fmt.Errorf("failed to load library: %w", err)
	}

	if _, exists := fm.monitoredLibraries[libraryID]; exists {
		return nil
	}

	if err := fm.watcher.Add(library.Path); err != nil {
		return fmt.Errorf("failed to add watch for %s: %w", library.Path, err)
	}
	if err := fm.addRecursiveWatch(library.Path); err != nil {
		fm.logger.Warn("failed to watch some subdirectories", "path", library.Path, "error", err)
	}

	fm.monitoredLibraries[libraryID] = &MonitoredLibrary{
		ID:            libraryID,
		Path:          library.Path,
		LastScanJobID: scanJobID,
		StartTime:     time.Now(),
		Status:        "monitoring",
	}

	fm.logger.Info("started monitoring library", "library_id", libraryID, "path", library.Path)
	return nil
}

// StopMonitoring stops watching a library
func (fm *FileMonitor) StopMonitoring(libraryID uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	monitored, exists := fm.monitoredLibraries[libraryID]
	if !exists {
		return fmt.Errorf("library %d is not being monitored", libraryID)
	}

	if err := fm.watcher.Remove(monitored.Path); err != nil {
		fm.logger.Warn("failed to remove watch", "path", monitored.Path, "error", err)
	}
	delete(fm.monitoredLibraries, libraryID)

	fm.logger.Info("stopped monitoring library", "library_id", libraryID)
	return nil
}

// GetMonitoringStatus returns a copy of the monitored library map
func (fm *FileMonitor) GetMonitoringStatus() map[uint32]*MonitoredLibrary {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	status := make(map[uint32]*MonitoredLibrary, len(fm.monitoredLibraries))
	for id, lib := range fm.monitoredLibraries {
		clone := *lib
		status[id] = &clone
	}
	return status
}

func (fm *FileMonitor) addRecursiveWatch(rootPath string) error {
	return filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != rootPath {
			if err := fm.watcher.Add(path); err != nil {
				fm.logger.Debug("failed to watch subdirectory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (fm *FileMonitor) watchEvents() {
	defer fm.wg.Done()

	for {
		select {
		case event, ok := <-fm.watcher.Events:
			if !ok {
				return
			}
			fm.handleFileSystemEvent(event)
		case err, ok := <-fm.watcher.Errors:
			if !ok {
				return
			}
			fm.logger.Error("file watcher error", "error", err)
		case <-fm.ctx.Done():
			return
		}
	}
}

func (fm *FileMonitor) handleFileSystemEvent(event fsnotify.Event) {
	// New directories need their own watch before anything else
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fm.watcher.Add(event.Name); err != nil {
				fm.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	libraryID := fm.findLibraryForPath(event.Name)
	if libraryID == 0 {
		return
	}
	if !metadata.IsAudiobookFile(event.Name) {
		return
	}

	select {
	case fm.eventQueue <- fileEvent{op: event.Op, path: event.Name, libraryID: libraryID}:
	default:
		fm.logger.Warn("file event queue full, dropping event", "path", event.Name)
	}
}

// processFileEvents debounces rapid changes per path before acting on them
func (fm *FileMonitor) processFileEvents() {
	defer fm.wg.Done()

	pending := make(map[string]fileEvent)
	ticker := time.NewTicker(fm.debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-fm.eventQueue:
			pending[event.path] = event
		case <-ticker.C:
			if len(pending) > 0 {
				fm.processBatch(pending)
				pending = make(map[string]fileEvent)
			}
		case <-fm.ctx.Done():
			if len(pending) > 0 {
				fm.processBatch(pending)
			}
			return
		}
	}
}

func (fm *FileMonitor) processBatch(pending map[string]fileEvent) {
	for path, event := range pending {
		if err := fm.processFileEvent(event); err != nil {
			fm.logger.Error("failed to process file event", "path", path, "error", err)
		}
	}
}

func (fm *FileMonitor) processFileEvent(event fileEvent) error {
	defer func() {
		fm.mu.Lock()
		if monitored, exists := fm.monitoredLibraries[event.libraryID]; exists {
			monitored.FilesProcessed++
		}
		fm.mu.Unlock()
	}()

	switch {
	case event.op&fsnotify.Create == fsnotify.Create,
		event.op&fsnotify.Write == fsnotify.Write:
		return fm.upsertFile(event.path, event.libraryID)
	case event.op&fsnotify.Remove == fsnotify.Remove,
		event.op&fsnotify.Rename == fsnotify.Rename:
		return fm.removeFile(event.path, event.libraryID)
	default:
		return nil
	}
}

// upsertFile extracts metadata for a created or modified file and writes
// it through the same repository path the scanner uses.
func (fm *FileMonitor) upsertFile(path string, libraryID uint32) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	ctx, cancel := context.WithTimeout(fm.ctx, DefaultTimeout)
	defer cancel()

	book, err := fm.extractor.Extract(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to extract metadata: %w", err)
	}

	record := database.NewAudiobook(libraryID, path)
	record.Title = book.Title
	record.Author = book.Author
	record.Narrator = book.Narrator
	record.Description = book.Description
	record.DurationSeconds = int64(book.Duration.Seconds())
	record.SizeBytes = info.Size()
	record.LastSeen = time.Now()
	if len(book.CoverArt) > 0 {
		record.CoverArt = book.CoverArt
		record.HasCoverArt = true
	}

	repo := database.NewAudiobookRepository(fm.db)
	if err := repo.UpsertBatch(ctx, []*database.Audiobook{record}); err != nil {
		return fmt.Errorf("failed to save audiobook: %w", err)
	}

	fm.logger.Info("library file updated", "path", path, "library_id", libraryID)
	fm.publishChange(events.EventAudiobookFound, path, libraryID)
	return nil
}

func (fm *FileMonitor) removeFile(path string, libraryID uint32) error {
	repo := database.NewAudiobookRepository(fm.db)
	removed, err := repo.DeleteByPath(fm.ctx, libraryID, path)
	if err != nil {
		return fmt.Errorf("failed to remove audiobook: %w", err)
	}
	if removed > 0 {
		fm.logger.Info("library file removed", "path", path, "library_id", libraryID)
		fm.publishChange(events.EventAudiobookRemoved, path, libraryID)
	}
	return nil
}

func (fm *FileMonitor) publishChange(eventType events.EventType, path string, libraryID uint32) {
	if fm.eventBus == nil {
		return
	}
	event := events.NewSystemEvent(eventType, "Library Changed",
		fmt.Sprintf("%s: %s", eventType, filepath.Base(path)))
	event.Data = map[string]interface{}{
		"path":      path,
		"libraryId": libraryID,
	}
	fm.eventBus.PublishAsync(event)
}

func (fm *FileMonitor) findLibraryForPath(filePath string) uint32 {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	for libraryID, monitored := range fm.monitoredLibraries {
		if strings.HasPrefix(filePath, monitored.Path) {
			return libraryID
		}
	}
	return 0
}
