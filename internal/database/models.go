package database

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Library represents a directory tree registered as an audiobook collection
type Library struct {
	ID        uint32    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Path      string    `gorm:"not null;uniqueIndex" json:"path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LibraryRequest represents the request to register a new library
type LibraryRequest struct {
	Name string `json:"name" binding:"required"`
	Path string `json:"path" binding:"required"`
}

// Audiobook represents one scanned audio file with its extracted metadata
type Audiobook struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibraryID       uint32    `gorm:"not null;index" json:"library_id"`
	ScanJobID       *uint32   `gorm:"index" json:"scan_job_id,omitempty"` // job that discovered this file
	Path            string    `gorm:"not null;uniqueIndex" json:"path"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Narrator        string    `json:"narrator"`
	Description     string    `json:"description"`
	DurationSeconds int64     `json:"duration_seconds"`
	SizeBytes       int64     `gorm:"not null" json:"size_bytes"`
	CoverArt        []byte    `gorm:"type:blob" json:"-"`
	HasCoverArt     bool      `json:"has_cover_art"`
	LastSeen        time.Time `gorm:"not null" json:"last_seen"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewAudiobook creates an audiobook record for a file path with a fresh ID.
func NewAudiobook(libraryID uint32, path string) *Audiobook {
	now := time.Now()
	return &Audiobook{
		ID:        uuid.New().String(),
		LibraryID: libraryID,
		Path:      path,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FileName returns the base name of the audiobook file.
func (a *Audiobook) FileName() string {
	return filepath.Base(a.Path)
}

// DisplayTitle returns the title, falling back to the file name.
func (a *Audiobook) DisplayTitle() string {
	if a.Title != "" {
		return a.Title
	}
	return a.FileName()
}

// ScanJob represents a background scanning operation
type ScanJob struct {
	ID             uint32     `gorm:"primaryKey" json:"id"`
	LibraryID      uint32     `gorm:"not null;index:idx_scan_jobs_library_id" json:"library_id"`
	Library        Library    `gorm:"foreignKey:LibraryID" json:"library,omitempty"`
	Status         string     `gorm:"not null;default:'pending'" json:"status"` // pending, running, paused, completed, cancelled, failed
	Progress       float64    `gorm:"default:0" json:"progress"`                // 0.0-100.0
	FilesFound     int        `gorm:"default:0" json:"files_found"`
	FilesProcessed int        `gorm:"default:0" json:"files_processed"`
	FilesSkipped   int        `gorm:"default:0" json:"files_skipped"`
	BytesProcessed int64      `gorm:"default:0" json:"bytes_processed"`
	ErrorsCount    int        `gorm:"default:0" json:"errors_count"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StatusMessage  string     `json:"status_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ResumedAt      *time.Time `json:"resumed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
