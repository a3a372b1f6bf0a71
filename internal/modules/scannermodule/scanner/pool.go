package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/metadata"
)

// pauseCheckInterval is how often a paused worker re-checks the gate
const pauseCheckInterval = 100 * time.Millisecond

// ExtractionPool runs metadata extraction over discovered files with a
// hard ceiling on concurrent extractions. Each extraction is independently
// bounded by the configured timeout, and a panic inside the extractor is
// converted to a failed outcome rather than taking down the pool.
type ExtractionPool struct {
	extractor metadata.Extractor
	config    ScanConfig
	logger    hclog.Logger
	libraryID uint32

	// skip decides whether a discovered file needs extraction at all,
	// used for dedup against already persisted records. May be nil.
	skip func(DiscoveredFile) (string, bool)

	paused *atomic.Bool

	// inflight tracks concurrent extractions; maxInflight records the
	// high-water mark for concurrency assertions
	inflight    atomic.Int64
	maxInflight atomic.Int64
}

// NewExtractionPool creates a pool. paused gates admission of new
// extractions; in-flight work always runs to completion.
func NewExtractionPool(extractor metadata.Extractor, config ScanConfig, libraryID uint32, logger hclog.Logger, paused *atomic.Bool, skip func(DiscoveredFile) (string, bool)) *ExtractionPool {
	if paused == nil {
		paused = &atomic.Bool{}
	}
	return &ExtractionPool{
		extractor: extractor,
		config:    config,
		libraryID: libraryID,
		logger:    logger,
		skip:      skip,
		paused:    paused,
	}
}

// Run consumes files from in until it is closed or ctx is cancelled,
// delivering one outcome per file to out in completion order. Run blocks
// until all workers have drained; it does not close out.
func (p *ExtractionPool) Run(ctx context.Context, in <-chan DiscoveredFile, out chan<- ExtractionOutcome) {
	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrentTasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, in, out)
		}()
	}
	wg.Wait()
}

func (p *ExtractionPool) worker(ctx context.Context, in <-chan DiscoveredFile, out chan<- ExtractionOutcome) {
	for {
		select {
		case file, ok := <-in:
			if !ok {
				return
			}
			// Admission is gated after the receive so a closed, drained
			// queue always lets a paused worker exit.
			if !p.awaitAdmission(ctx) {
				return
			}
			outcome := p.extractOne(ctx, file)
			select {
			case out <- outcome:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// awaitAdmission blocks while the pool is paused. Returns false when the
// context is cancelled.
func (p *ExtractionPool) awaitAdmission(ctx context.Context) bool {
	for p.paused.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pauseCheckInterval):
		}
	}
	return ctx.Err() == nil
}

func (p *ExtractionPool) extractOne(ctx context.Context, file DiscoveredFile) ExtractionOutcome {
	if p.skip != nil {
		if reason, skip := p.skip(file); skip {
			return skippedOutcome(file.Path, reason)
		}
	}

	current := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		max := p.maxInflight.Load()
		if current <= max || p.maxInflight.CompareAndSwap(max, current) {
			break
		}
	}

	extractCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.config.Timeout > 0 {
		extractCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
	}
	defer cancel()

	type result struct {
		book *metadata.Audiobook
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("extractor panicked", "path", file.Path, "panic", r)
				done <- result{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		book, err := p.extractor.Extract(extractCtx, file.Path)
		done <- result{book: book, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return failedOutcome(file.Path, newScanError(ErrKindExtraction, file.Path, res.err))
		}
		return successOutcome(p.toRecord(file, res.book), file.Size)
	case <-extractCtx.Done():
		// The slot is reclaimed immediately; the stuck extraction is
		// abandoned and its late result discarded via the buffered channel.
		if ctx.Err() != nil {
			return failedOutcome(file.Path, newScanError(ErrKindExtraction, file.Path, ctx.Err()))
		}
		p.logger.Warn("extraction timed out", "path", file.Path, "timeout", p.config.Timeout)
		return failedOutcome(file.Path, newScanError(ErrKindTimeout, file.Path, extractCtx.Err()))
	}
}

// MaxObservedInflight returns the concurrency high-water mark for this pool
func (p *ExtractionPool) MaxObservedInflight() int64 {
	return p.maxInflight.Load()
}

func (p *ExtractionPool) toRecord(file DiscoveredFile, book *metadata.Audiobook) *database.Audiobook {
	record := database.NewAudiobook(p.libraryID, file.Path)
	record.Title = book.Title
	record.Author = book.Author
	record.Narrator = book.Narrator
	record.Description = book.Description
	record.DurationSeconds = int64(book.Duration.Seconds())
	record.SizeBytes = file.Size
	record.LastSeen = time.Now()
	if len(book.CoverArt) > 0 {
		record.CoverArt = book.CoverArt
		record.HasCoverArt = true
	}
	return record
}
