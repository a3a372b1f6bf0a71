package scanner

import (
	"context"
	"testing"

	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecords(n int) []*database.Audiobook {
	records := make([]*database.Audiobook, n)
	for i := range records {
		records[i] = database.NewAudiobook(1, "/library/book"+string(rune('a'+i))+".mp3")
		records[i].SizeBytes = 1024
	}
	return records
}

func TestBatchCommitter_FlushesAtBatchSize(t *testing.T) {
	repo := &fakeRepo{}
	var committed [][]*database.Audiobook
	bc := NewBatchCommitter(repo, 2, testLogger(), func(books []*database.Audiobook) {
		committed = append(committed, books)
	}, nil)

	ctx := context.Background()
	for _, r := range makeRecords(3) {
		bc.Add(ctx, r)
	}

	// Two records filled the first batch; the third is still buffered
	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0], 2)
	assert.Equal(t, 1, bc.Pending())

	bc.Flush(ctx)
	require.Len(t, repo.batches, 2)
	assert.Len(t, repo.batches[1], 1)
	assert.Equal(t, 0, bc.Pending())

	require.Len(t, committed, 2)
	assert.Equal(t, 3, repo.committedCount())
}

func TestBatchCommitter_EmptyFlushIsNoop(t *testing.T) {
	repo := &fakeRepo{}
	bc := NewBatchCommitter(repo, 10, testLogger(), nil, nil)

	bc.Flush(context.Background())
	assert.Empty(t, repo.batches)
}

func TestBatchCommitter_RetriesOnceThenSucceeds(t *testing.T) {
	repo := &fakeRepo{failNext: 1}
	demoted := 0
	bc := NewBatchCommitter(repo, 2, testLogger(), nil, func(books []*database.Audiobook, err error) {
		demoted += len(books)
	})

	ctx := context.Background()
	for _, r := range makeRecords(2) {
		bc.Add(ctx, r)
	}

	// First attempt failed, the immediate retry committed the same batch
	assert.Equal(t, 0, demoted)
	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0], 2)
}

func TestBatchCommitter_DemotesAfterFailedRetry(t *testing.T) {
	repo := &fakeRepo{failNext: 2}
	var demotedErr error
	demoted := 0
	bc := NewBatchCommitter(repo, 2, testLogger(), nil, func(books []*database.Audiobook, err error) {
		demoted += len(books)
		demotedErr = err
	})

	ctx := context.Background()
	for _, r := range makeRecords(2) {
		bc.Add(ctx, r)
	}

	assert.Equal(t, 2, demoted)
	assert.Empty(t, repo.batches)

	kind, ok := ErrorKindOf(demotedErr)
	require.True(t, ok)
	assert.Equal(t, ErrKindCommit, kind)

	var se *ScanError
	require.ErrorAs(t, demotedErr, &se)
	assert.False(t, se.IsFatal())
}

func TestBatchCommitter_FailedBatchDoesNotBlockNext(t *testing.T) {
	repo := &fakeRepo{failNext: 2}
	bc := NewBatchCommitter(repo, 2, testLogger(), nil, nil)

	ctx := context.Background()
	records := makeRecords(4)

	// First batch fails both attempts and is demoted
	bc.Add(ctx, records[0])
	bc.Add(ctx, records[1])
	assert.Empty(t, repo.batches)

	// Second batch commits normally
	bc.Add(ctx, records[2])
	bc.Add(ctx, records[3])
	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0], 2)
}
