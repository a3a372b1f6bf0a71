package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/metadata"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockEventBus implements events.EventBus for testing
type MockEventBus struct {
	mu     sync.RWMutex
	events []events.Event
}

func (m *MockEventBus) Publish(ctx context.Context, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventBus) PublishAsync(event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventBus) Subscribe(ctx context.Context, filter events.EventFilter, handler events.EventHandler) (*events.Subscription, error) {
	return &events.Subscription{ID: "test"}, nil
}

func (m *MockEventBus) Unsubscribe(subscriptionID string) error { return nil }

func (m *MockEventBus) GetSubscriptions() []*events.Subscription { return nil }

func (m *MockEventBus) GetStats() events.EventStats { return events.EventStats{} }

func (m *MockEventBus) Start(ctx context.Context) error { return nil }

func (m *MockEventBus) Stop(ctx context.Context) error { return nil }

func (m *MockEventBus) Health() error { return nil }

func (m *MockEventBus) EventsOfType(eventType events.EventType) []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []events.Event
	for _, e := range m.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

// extractorFunc adapts a function to the metadata.Extractor interface
type extractorFunc func(ctx context.Context, path string) (*metadata.Audiobook, error)

func (f extractorFunc) Extract(ctx context.Context, path string) (*metadata.Audiobook, error) {
	return f(ctx, path)
}

// fakeRepo is an in-memory Repository recording every commit attempt
type fakeRepo struct {
	mu       sync.Mutex
	batches  [][]*database.Audiobook
	existing []database.Audiobook

	// failNext makes the next N UpsertBatch calls fail
	failNext int
	listErr  error
}

func (r *fakeRepo) UpsertBatch(ctx context.Context, books []*database.Audiobook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return errDatabaseDown
	}
	batch := make([]*database.Audiobook, len(books))
	copy(batch, books)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *fakeRepo) ListExisting(ctx context.Context, libraryID uint32) ([]database.Audiobook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.existing, nil
}

func (r *fakeRepo) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, b := range r.batches {
		total += len(b)
	}
	return total
}

var errDatabaseDown = errors.New("database down")

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&database.Library{},
		&database.Audiobook{},
		&database.ScanJob{},
	)
	require.NoError(t, err)

	return db
}

// createTestLibrary registers a library rooted at path
func createTestLibrary(t *testing.T, db *gorm.DB, path string) *database.Library {
	t.Helper()
	library := &database.Library{
		Name: filepath.Base(path),
		Path: path,
	}
	require.NoError(t, db.Create(library).Error)
	return library
}

// createTestDirectory creates a temp library with the given relative files
func createTestDirectory(t *testing.T, files ...string) string {
	t.Helper()
	tempDir := t.TempDir()

	for _, file := range files {
		fullPath := filepath.Join(tempDir, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, []byte("test audio data"), 0o644))
	}

	return tempDir
}

// testConfig returns a small, fast configuration for tests
func testConfig() ScanConfig {
	cfg := DefaultScanConfig()
	cfg.MaxConcurrentTasks = 2
	cfg.BatchSize = 2
	cfg.Timeout = 0
	return cfg
}

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}
