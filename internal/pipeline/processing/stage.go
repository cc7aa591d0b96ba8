// Package processing implements the Processing Stage: it consumes the
// bus, dispatches per-scrap to every applicable processor under a
// semaphore, and emits the advisory completion message that lets the
// Collector Stage free its in-flight hash (spec.md §4.7).
package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/krystianbajno/breachhunter/internal/bus"
	"github.com/krystianbajno/breachhunter/internal/plugin"
	"github.com/krystianbajno/breachhunter/internal/scrap"
)

// Config configures the stage's concurrency cap and consumer batch size.
type Config struct {
	Concurrency int
	BatchSize   int
}

// ScrapConsumer is the narrow slice of *bus.Consumer the stage needs,
// declared here so tests can substitute a fake without an AMQP broker.
type ScrapConsumer interface {
	GetMany(ctx context.Context, timeout time.Duration, max int) ([]bus.Delivery, error)
}

// CompletionPublisher is the narrow slice of *bus.Producer the stage
// needs for its advisory completion emission.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, env bus.CompletionEnvelope) error
}

// Stage is the Processing Stage. Its consumer runs with manual
// acknowledgement disabled auto-commit, matching spec.md §4.7's
// at-least-once contract: offsets only advance once a scrap's dispatch
// has resolved.
type Stage struct {
	processors         []plugin.Processor
	consumer           ScrapConsumer
	completionProducer CompletionPublisher
	concurrency        int
	batchSize          int
	logger             *zap.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds the Processing Stage. consumer reads the scraps topic under
// the `processing_group` consumer group; completionProducer publishes
// onto the completion topic.
func New(processors []plugin.Processor, consumer ScrapConsumer, completionProducer CompletionPublisher, cfg Config, logger *zap.Logger) *Stage {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 100
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Stage{
		processors:         processors,
		consumer:           consumer,
		completionProducer: completionProducer,
		concurrency:        concurrency,
		batchSize:          batchSize,
		logger:             logger.Named("processing_stage"),
		sem:                semaphore.NewWeighted(int64(concurrency)),
		inFlight:           make(map[string]struct{}),
	}
}

// Run is the main loop: getmany(timeout=1s), dispatch every message in
// the batch, then wait for the batch's futures to resolve before
// committing offsets (i.e. acking), matching spec.md §4.7.
func (s *Stage) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		deliveries, err := s.consumer.GetMany(ctx, time.Second, s.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("consumer getmany failed", zap.Error(err))
			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		var wg sync.WaitGroup
		for _, d := range deliveries {
			wg.Add(1)
			go func(d bus.Delivery) {
				defer wg.Done()
				s.handleDelivery(ctx, d)
			}(d)
		}
		wg.Wait()
	}
}

func (s *Stage) handleDelivery(ctx context.Context, d bus.Delivery) {
	var env bus.ScrapEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		s.logger.Error("scrap envelope corrupt, dropping", zap.Error(err))
		d.Ack()
		return
	}

	sc, err := scrap.FromJSON([]byte(env.ScrapData))
	if err != nil {
		s.logger.Error("scrap JSON corrupt, dropping", zap.Error(err))
		d.Ack()
		return
	}
	sc.FilePath = selectPath(env)

	s.mu.Lock()
	if _, seen := s.inFlight[sc.Hash]; seen {
		s.mu.Unlock()
		// Already being worked by this stage instance: requeue for a
		// later delivery rather than committing now.
		d.Nack(true)
		return
	}
	s.inFlight[sc.Hash] = struct{}{}
	s.mu.Unlock()

	if err := s.processWithSemaphore(ctx, sc); err != nil {
		s.logger.Error("error dispatching scrap to processors", zap.String("hash", sc.Hash), zap.Error(err))
	}

	// At-least-once: the offset advances regardless of per-scrap outcome.
	// Idempotency is delegated to the store's is_hash_processed check on
	// the next attempt.
	d.Ack()
}

// selectPath chooses mounted_path on non-Windows platforms and unc_path
// on Windows, matching spec.md §4.7's platform-specific path selection.
func selectPath(env bus.ScrapEnvelope) string {
	if runtime.GOOS == "windows" && env.UNCPath != "" {
		return env.UNCPath
	}
	return env.MountedPath
}

func (s *Stage) processWithSemaphore(ctx context.Context, sc scrap.Scrap) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring processing slot for %s: %w", sc.Hash, err)
	}
	defer s.sem.Release(1)

	var applicable []plugin.Processor
	for _, p := range s.processors {
		if p.CanProcess(sc) {
			applicable = append(applicable, p)
		}
	}

	var wg sync.WaitGroup
	for _, p := range applicable {
		wg.Add(1)
		go func(p plugin.Processor) {
			defer wg.Done()
			id, err := p.Process(ctx, sc)
			if err != nil {
				s.logger.Error("processor failed", zap.String("hash", sc.Hash), zap.Error(err))
				return
			}
			s.emitCompletion(ctx, id, sc.Hash)
		}(p)
	}
	wg.Wait()

	s.mu.Lock()
	delete(s.inFlight, sc.Hash)
	s.mu.Unlock()

	return nil
}

func (s *Stage) emitCompletion(ctx context.Context, scrapID int64, hash string) {
	err := s.completionProducer.PublishCompletion(ctx, bus.CompletionEnvelope{
		ScrapID: scrapID,
		Hash:    hash,
		Status:  string(scrap.StateProcessed),
	})
	if err != nil {
		s.logger.Error("publishing completion failed", zap.String("hash", hash), zap.Error(err))
	}
}

// InFlightCount reports the current in-flight set size, for tests and
// metrics.
func (s *Stage) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}
