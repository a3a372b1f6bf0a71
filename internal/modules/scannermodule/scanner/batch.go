package scanner

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/database"
)

// Repository is the persistence sink consumed by the committer
type Repository interface {
	UpsertBatch(ctx context.Context, books []*database.Audiobook) error
	ListExisting(ctx context.Context, libraryID uint32) ([]database.Audiobook, error)
}

// BatchCommitter accumulates successful extractions and flushes them to
// the repository in transactional batches. Commits are strictly
// sequential: one batch fully commits, including its retry, before the
// next begins. A batch that fails twice is demoted to per-record failures
// and the scan continues.
type BatchCommitter struct {
	repo      Repository
	batchSize int
	logger    hclog.Logger

	buffer []*database.Audiobook

	// onCommitted receives each successfully committed batch
	onCommitted func(books []*database.Audiobook)
	// onDemoted receives records whose batch failed after retry
	onDemoted func(books []*database.Audiobook, err error)
}

// NewBatchCommitter creates a committer. onCommitted and onDemoted may be nil.
func NewBatchCommitter(repo Repository, batchSize int, logger hclog.Logger, onCommitted func([]*database.Audiobook), onDemoted func([]*database.Audiobook, error)) *BatchCommitter {
	if onCommitted == nil {
		onCommitted = func([]*database.Audiobook) {}
	}
	if onDemoted == nil {
		onDemoted = func([]*database.Audiobook, error) {}
	}
	return &BatchCommitter{
		repo:        repo,
		batchSize:   batchSize,
		logger:      logger,
		buffer:      make([]*database.Audiobook, 0, batchSize),
		onCommitted: onCommitted,
		onDemoted:   onDemoted,
	}
}

// Add buffers a record and flushes when the buffer reaches the batch size
func (bc *BatchCommitter) Add(ctx context.Context, record *database.Audiobook) {
	bc.buffer = append(bc.buffer, record)
	if len(bc.buffer) >= bc.batchSize {
		bc.Flush(ctx)
	}
}

// Flush commits the buffered records, if any. Called automatically when
// the buffer fills and explicitly when the outcome stream ends or the
// scan is cancelled, so a partial batch is never lost.
func (bc *BatchCommitter) Flush(ctx context.Context) {
	if len(bc.buffer) == 0 {
		return
	}

	batch := bc.buffer
	bc.buffer = make([]*database.Audiobook, 0, bc.batchSize)

	err := bc.repo.UpsertBatch(ctx, batch)
	if err != nil {
		// Transient persistence failures get exactly one immediate retry
		// with the same batch.
		bc.logger.Warn("batch commit failed, retrying", "batch_size", len(batch), "error", err)
		err = bc.repo.UpsertBatch(ctx, batch)
	}
	if err != nil {
		bc.logger.Error("batch commit failed after retry, demoting records", "batch_size", len(batch), "error", err)
		bc.onDemoted(batch, newScanError(ErrKindCommit, "", err))
		return
	}

	bc.logger.Debug("batch committed", "batch_size", len(batch))
	bc.onCommitted(batch)
}

// Pending returns the number of buffered, uncommitted records
func (bc *BatchCommitter) Pending() int {
	return len(bc.buffer)
}
