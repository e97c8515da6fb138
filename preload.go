// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

package pdf

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Halolegend94/pdf4go/logger"
)

// Preloader defines the contract for warming a document's object cache
// up front, so later traversal of the object graph never touches the
// parser.
type Preloader interface {
	Warm(ctx context.Context, path string) (PreloadStats, error)
}

// PreloadStats summarizes one warming pass.
type PreloadStats struct {
	Resolved int64 // objects parsed and cached
	Nulls    int64 // free or dangling identifiers
	Streams  int64 // stream payloads decoded and cached
	Failed   int64 // objects that could not be loaded
}

// ResolverStrategy defines how to warm a single object.
// Different strategies handle errors differently (strict vs. best-effort).
type ResolverStrategy interface {
	WarmObject(ctx context.Context, r *Reader, id ObjectID, stats *PreloadStats) error
}

// StrictResolver enforces strict parsing.
// If any object fails, the entire warming pass fails.
type StrictResolver struct{}

func (s *StrictResolver) WarmObject(ctx context.Context, r *Reader, id ObjectID, stats *PreloadStats) error {
	return warmOne(r, id, stats, func(err error) error { return err })
}

// BestEffortResolver tolerates errors.
// If an object fails, it is counted and skipped.
type BestEffortResolver struct{}

func (b *BestEffortResolver) WarmObject(ctx context.Context, r *Reader, id ObjectID, stats *PreloadStats) error {
	return warmOne(r, id, stats, func(err error) error {
		logger.Debug(fmt.Sprintf("BestEffortResolver: failed to warm object, ignoring error: id=%v err=%v", id, err), true)
		atomic.AddInt64(&stats.Failed, 1)
		return nil
	})
}

func warmOne(r *Reader, id ObjectID, stats *PreloadStats, onErr func(error) error) error {
	v, err := r.Resolve(id)
	if err != nil {
		return onErr(fmt.Errorf("resolve %v: %w", id, err))
	}
	if v.IsNull() {
		atomic.AddInt64(&stats.Nulls, 1)
		return nil
	}
	atomic.AddInt64(&stats.Resolved, 1)
	if v.Kind() == Stream {
		if _, err := v.DecodedBytes(); err != nil {
			return onErr(fmt.Errorf("decode stream %v: %w", id, err))
		}
		atomic.AddInt64(&stats.Streams, 1)
	}
	return nil
}

// preloader manages document warming with concurrency control and
// delegates object-level work to the chosen ResolverStrategy.
type preloader struct {
	cfg      *Config
	sem      *semaphore.Weighted
	resolver ResolverStrategy
}

// NewPreloader validates the config and creates a new preloader.
// Selects the correct ResolverStrategy (Strict or BestEffort).
func NewPreloader(cfg *Config) *preloader {
	var resolver ResolverStrategy
	switch cfg.ParsingMode {
	case Strict:
		resolver = &StrictResolver{}
	case BestEffort:
		resolver = &BestEffortResolver{}
	}

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}

	logger.Debug(fmt.Sprintf("Preloader initialized: parsing_mode=%v, max_concurrent_pdfs=%d, max_workers_per_pdf=%d",
		cfg.ParsingMode, cfg.MaxConcurrentPDFs, cfg.MaxWorkersPerPDF), true)

	return &preloader{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentPDFs)),
		resolver: resolver,
	}
}

// Warm opens the named file and resolves every live object into the
// Reader's cache, decoding stream payloads along the way.
func (p *preloader) Warm(ctx context.Context, path string) (PreloadStats, error) {
	logger.Debug(fmt.Sprintf("Starting warm: path=%s", path), true)

	if err := p.acquireSlot(ctx); err != nil {
		logger.Debug(fmt.Sprintf("Failed to acquire slot: err=%v", err), true)
		return PreloadStats{}, err
	}
	defer p.sem.Release(1)

	f, r, err := Open(path)
	if err != nil {
		logger.Debug(fmt.Sprintf("Failed to open PDF: path=%s err=%v", path, err), true)
		return PreloadStats{}, err
	}
	defer f.Close()

	return p.WarmReader(ctx, r)
}

// WarmReader resolves every live object of an already open Reader,
// using up to MaxWorkersPerPDF goroutines and stopping early when ctx
// is cancelled or the WorkerTimeout elapses.
func (p *preloader) WarmReader(ctx context.Context, r *Reader) (PreloadStats, error) {
	ids := r.Objects()
	logger.Debug(fmt.Sprintf("Total objects detected: count=%d", len(ids)), true)
	if len(ids) == 0 {
		return PreloadStats{}, nil
	}

	if p.cfg.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.WorkerTimeout)
		defer cancel()
	}

	numWorkers := p.adjustWorkerCount(p.cfg.MaxWorkersPerPDF)
	logger.Debug(fmt.Sprintf("Starting workers: count=%d", numWorkers), true)

	var stats PreloadStats
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			break
		}
		id := id
		g.Go(func() error {
			return p.resolver.WarmObject(ctx, r, id, &stats)
		})
	}
	err := g.Wait()

	logger.Debug(fmt.Sprintf("Warm completed: resolved=%d nulls=%d streams=%d failed=%d",
		atomic.LoadInt64(&stats.Resolved), atomic.LoadInt64(&stats.Nulls),
		atomic.LoadInt64(&stats.Streams), atomic.LoadInt64(&stats.Failed)), true)
	return stats, err
}

func (p *preloader) acquireSlot(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	logger.Debug("Slot acquired successfully", true)
	return nil
}

func (p *preloader) adjustWorkerCount(maxWorkers int) int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if n := runtime.NumCPU(); maxWorkers > n {
		maxWorkers = n
	}
	logger.Debug(fmt.Sprintf("Adjusted worker count: workers=%d", maxWorkers), true)
	return maxWorkers
}
