// Package scannermodule exposes the audiobook scanning engine over HTTP.
// It owns the scanner manager and wires scan lifecycle events to
// websocket subscribers.
package scannermodule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/config"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/modules/scannermodule/scanner"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the scanner module
	ModuleID = "system.scanner"

	// ModuleName is the display name for the scanner module
	ModuleName = "Audiobook Scanner"
)

// Module implements the scanner functionality as a module
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	logger   hclog.Logger

	scannerManager *scanner.Manager
	progressHub    *ProgressHub
}

// NewModule creates a scanner module with its manager ready to serve
func NewModule(db *gorm.DB, eventBus events.EventBus, cfg config.ScannerConfig, logger hclog.Logger) (*Module, error) {
	scanConfig := scanner.FromSettings(cfg)
	if err := scanConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scanner configuration: %w", err)
	}

	m := &Module{
		db:             db,
		eventBus:       eventBus,
		logger:         logger,
		scannerManager: scanner.NewManager(db, eventBus, scanConfig, logger.Named("scanner")),
		progressHub:    NewProgressHub(eventBus, logger.Named("ws")),
	}
	return m, nil
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Init recovers jobs interrupted by a previous process and starts the
// filesystem monitor.
func (m *Module) Init() error {
	m.logger.Info("initializing scanner module")

	if err := m.scannerManager.RecoverOrphanedJobs(); err != nil {
		m.logger.Error("failed to recover orphaned scan jobs", "error", err)
	}

	if err := m.scannerManager.StartFileMonitoring(); err != nil {
		m.logger.Warn("file monitoring unavailable", "error", err)
	}

	return nil
}

// Manager returns the underlying scanner manager
func (m *Module) Manager() *scanner.Manager {
	return m.scannerManager
}

// Shutdown pauses active scans and stops background workers
func (m *Module) Shutdown() error {
	return m.scannerManager.Shutdown()
}
