// Package processor implements the Core Processor: the per-scrap
// classification protocol shared by every plugin processor's Process
// call (spec.md §4.4).
package processor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krystianbajno/breachhunter/internal/metrics"
	"github.com/krystianbajno/breachhunter/internal/scanner"
	"github.com/krystianbajno/breachhunter/internal/scrap"
	"github.com/krystianbajno/breachhunter/internal/tracing"
)

// Store is the narrow slice of the Postgres store the Core Processor
// needs. Declared here, implemented by *postgres.Store, so this package
// does not import the store package back (postgres imports nothing from
// processor, but plugin wires both together).
type Store interface {
	SaveScrapReference(ctx context.Context, sc scrap.Scrap, state scrap.State) (int64, error)
	UpdateScrapState(ctx context.Context, id int64, state scrap.State) error
	UpdateScrapClass(ctx context.Context, id int64, class string) error
	GetScrapByID(ctx context.Context, id int64) (*scrap.Scrap, error)
	GetClassifierPatterns(ctx context.Context) ([]scrap.Pattern, error)
	IsHashProcessed(ctx context.Context, hash string) (bool, error)
}

// ElasticStore is the narrow slice of the Elastic store the Core
// Processor needs.
type ElasticStore interface {
	SaveScrapChunks(ctx context.Context, sc scrap.Scrap) ([]string, error)
}

// CoreProcessor runs the classification protocol: hash → dedup → scan →
// chunk → state. Patterns are loaded lazily, once per instance; reload
// requires a restart (spec.md §3's Pattern note).
type CoreProcessor struct {
	store        Store
	elasticStore ElasticStore
	scannerPool  *scanner.Pool
	logger       *zap.Logger

	patternsOnce sync.Once
	patterns     []scanner.CompiledPattern
	patternsErr  error
}

// New builds a Core Processor. scannerPool bounds how many pattern scans
// run concurrently off the coordination goroutine.
func New(store Store, elasticStore ElasticStore, scannerPool *scanner.Pool, logger *zap.Logger) *CoreProcessor {
	return &CoreProcessor{
		store:        store,
		elasticStore: elasticStore,
		scannerPool:  scannerPool,
		logger:       logger.Named("core_processor"),
	}
}

func (c *CoreProcessor) loadPatterns(ctx context.Context) ([]scanner.CompiledPattern, error) {
	c.patternsOnce.Do(func() {
		raw, err := c.store.GetClassifierPatterns(ctx)
		if err != nil {
			c.patternsErr = fmt.Errorf("loading classifier patterns: %w", err)
			return
		}
		patterns := make([]scanner.Pattern, len(raw))
		for i, p := range raw {
			patterns[i] = scanner.Pattern{Regex: p.Regex, Class: p.Class}
		}
		compiled, err := scanner.Compile(patterns)
		if err != nil {
			c.patternsErr = err
			return
		}
		c.patterns = compiled
	})
	return c.patterns, c.patternsErr
}

// ProcessScrap runs the full protocol against sc and returns the
// Postgres id it was assigned along with the terminal state it reached.
// Any exception inside the protocol resolves to FAILED; that transition
// is itself persisted before returning.
func (c *CoreProcessor) ProcessScrap(ctx context.Context, sc scrap.Scrap) (int64, scrap.State, error) {
	id, err := c.store.SaveScrapReference(ctx, sc, scrap.StateProcessing)
	if err != nil {
		return 0, scrap.StateFailed, fmt.Errorf("initialising scrap: %w", err)
	}
	sc.ID = id

	state, procErr := tracing.WrapProcess(ctx, sc, func(ctx context.Context) (scrap.State, error) {
		return c.process(ctx, sc)
	})
	if procErr != nil {
		c.logger.Error("scrap processing failed", zap.Int64("scrap_id", id), zap.Error(procErr))
		state = scrap.StateFailed
	}

	if err := c.store.UpdateScrapState(ctx, id, state); err != nil {
		return id, state, fmt.Errorf("finalising scrap %d state %s: %w", id, state, err)
	}

	metrics.ScrapsProcessed.WithLabelValues(string(state)).Inc()
	c.logger.Info("scrap processed", zap.Int64("scrap_id", id), zap.String("state", string(state)))
	return id, state, procErr
}

func (c *CoreProcessor) process(ctx context.Context, sc scrap.Scrap) (scrap.State, error) {
	if sc.Hash == "" {
		existing, err := c.store.GetScrapByID(ctx, sc.ID)
		if err != nil {
			return scrap.StateFailed, fmt.Errorf("recovering hash for scrap %d: %w", sc.ID, err)
		}
		if existing == nil || existing.Hash == "" {
			c.logger.Warn("no hash found for scrap, failing", zap.Int64("scrap_id", sc.ID))
			return scrap.StateFailed, nil
		}
		sc.Hash = existing.Hash
	}

	patterns, err := c.loadPatterns(ctx)
	if err != nil {
		return scrap.StateFailed, err
	}

	duplicate, err := c.store.IsHashProcessed(ctx, sc.Hash)
	if err != nil {
		return scrap.StateFailed, fmt.Errorf("checking duplicate for hash %s: %w", sc.Hash, err)
	}

	var result *scanner.ScanResult
	err = c.scannerPool.Run(ctx, func() error {
		var scanErr error
		result, scanErr = scanner.ProcessScrap(sc.FilePath, patterns, duplicate)
		return scanErr
	})
	if err != nil {
		return scrap.StateFailed, fmt.Errorf("scanning scrap %d: %w", sc.ID, err)
	}

	if result == nil {
		if duplicate {
			return scrap.StateDuplicateExists, nil
		}
		return scrap.StateNoPatternsFound, nil
	}

	class := result.Class
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.store.UpdateScrapClass(gctx, sc.ID, class)
	})
	g.Go(func() error {
		ids, err := c.elasticStore.SaveScrapChunks(gctx, sc)
		if err != nil {
			return err
		}
		metrics.ChunksIndexed.Add(float64(len(ids)))
		return nil
	})
	if err := g.Wait(); err != nil {
		return scrap.StateFailed, fmt.Errorf("finalising matched scrap %d: %w", sc.ID, err)
	}

	return scrap.StateProcessed, nil
}
