package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AudiobookRepository is the persistence sink for scanned audiobooks.
type AudiobookRepository struct {
	db *gorm.DB
}

// NewAudiobookRepository creates a repository bound to the given connection.
func NewAudiobookRepository(db *gorm.DB) *AudiobookRepository {
	return &AudiobookRepository{db: db}
}

// UpsertBatch inserts or updates a batch of audiobooks in one transaction.
// Conflicts on path update the mutable metadata columns, so re-scanning a
// known file refreshes it instead of duplicating it.
func (r *AudiobookRepository) UpsertBatch(ctx context.Context, books []*Audiobook) error {
	if len(books) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "author", "narrator", "duration_seconds",
				"size_bytes", "cover_art", "has_cover_art",
				"last_seen", "updated_at",
			}),
		}).CreateInBatches(books, len(books)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert audiobook batch: %w", err)
	}
	return nil
}

// ListExisting returns all audiobooks already persisted for a library, loaded
// in chunks to bound memory on large collections.
func (r *AudiobookRepository) ListExisting(ctx context.Context, libraryID uint32) ([]Audiobook, error) {
	const chunkSize = 1000

	var all []Audiobook
	offset := 0
	for {
		var chunk []Audiobook
		err := r.db.WithContext(ctx).
			Where("library_id = ?", libraryID).
			Select("id", "library_id", "path", "size_bytes", "last_seen").
			Offset(offset).
			Limit(chunkSize).
			Find(&chunk).Error
		if err != nil {
			return nil, fmt.Errorf("failed to list existing audiobooks: %w", err)
		}

		all = append(all, chunk...)
		if len(chunk) < chunkSize {
			break
		}
		offset += chunkSize
	}

	return all, nil
}

// DeleteByPath removes the audiobook stored for a path, if any. Used by the
// file monitor when a file disappears from a watched library.
func (r *AudiobookRepository) DeleteByPath(ctx context.Context, libraryID uint32, path string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("library_id = ? AND path = ?", libraryID, path).
		Delete(&Audiobook{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete audiobook: %w", result.Error)
	}
	return result.RowsAffected, nil
}
