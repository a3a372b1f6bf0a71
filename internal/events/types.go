// Package events provides an in-process event bus used for scan lifecycle
// notifications and progress broadcasting.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Scan lifecycle events
	EventScanStarted   EventType = "scan.started"
	EventScanProgress  EventType = "scan.progress"
	EventScanCompleted EventType = "scan.completed"
	EventScanFailed    EventType = "scan.failed"
	EventScanPaused    EventType = "scan.paused"
	EventScanResumed   EventType = "scan.resumed"
	EventScanCancelled EventType = "scan.cancelled"

	// Library events
	EventLibraryScanned     EventType = "library.scanned"
	EventAudiobookFound     EventType = "library.audiobook.found"
	EventAudiobookRemoved   EventType = "library.audiobook.removed"
	EventLibraryFileChanged EventType = "library.file.changed"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize int `json:"buffer_size"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize: 1000,
	}
}

// ScanProgressData represents data for scan progress events
type ScanProgressData struct {
	JobID          uint32  `json:"job_id"`
	LibraryID      uint32  `json:"library_id"`
	Progress       float64 `json:"progress"`
	FilesFound     int     `json:"files_found"`
	FilesProcessed int     `json:"files_processed"`
	BytesProcessed int64   `json:"bytes_processed"`
	ErrorCount     int     `json:"error_count,omitempty"`
	CurrentFile    string  `json:"current_file,omitempty"`
}

// LibraryScannedData represents data for library.scanned events
type LibraryScannedData struct {
	LibraryID    uint32 `json:"library_id"`
	Path         string `json:"path"`
	DurationMs   int64  `json:"duration_ms"`
	FileCount    int    `json:"file_count"`
	BytesScanned int64  `json:"bytes_scanned"`
	ErrorCount   int    `json:"error_count,omitempty"`
}
