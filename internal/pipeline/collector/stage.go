// Package collector implements the Collector Stage: it runs every plugin
// collector concurrently under a semaphore, stages new scraps upstream,
// publishes them to the bus, and reconciles completion via the advisory
// completion topic (spec.md §4.6).
package collector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/krystianbajno/breachhunter/internal/bus"
	"github.com/krystianbajno/breachhunter/internal/metrics"
	"github.com/krystianbajno/breachhunter/internal/plugin"
	"github.com/krystianbajno/breachhunter/internal/scrap"
)

// Staging is the upstream file handoff: collectors deposit raw files so
// processors can read them from a shared mount. Concrete implementations
// (SMB mount management) are out of scope per spec.md §1; this interface
// is their contract.
type Staging interface {
	// Stage moves sc's file onto the upstream share and returns both the
	// POSIX-mount view and the Windows UNC view processors choose
	// between by platform.
	Stage(ctx context.Context, sc scrap.Scrap) (mountedPath, uncPath string, err error)
}

// ScrapPublisher is the narrow slice of *bus.Producer the stage needs,
// declared here so tests can substitute a fake without an AMQP broker.
type ScrapPublisher interface {
	PublishScrap(ctx context.Context, env bus.ScrapEnvelope) error
}

// CompletionConsumer is the narrow slice of *bus.Consumer the stage
// needs for its completion back-edge.
type CompletionConsumer interface {
	GetMany(ctx context.Context, timeout time.Duration, max int) ([]bus.Delivery, error)
}

// Stage is the Collector Stage. Its in-flight hash set is process-local,
// non-persistent, and unbounded by design (spec.md §6.6's concurrency
// note): the semaphore bounds active collect() calls, not the set's size.
type Stage struct {
	collectors   []plugin.Collector
	producer     ScrapPublisher
	completion   CompletionConsumer
	staging      Staging
	pollInterval time.Duration
	logger       *zap.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Config configures the stage's concurrency cap and polling cadence.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
}

// New builds the Collector Stage. producer publishes onto the scraps
// topic; completion consumes the completion topic under the
// `notification_group` consumer group.
func New(collectors []plugin.Collector, producer ScrapPublisher, completion CompletionConsumer, staging Staging, cfg Config, logger *zap.Logger) *Stage {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Stage{
		collectors:   collectors,
		producer:     producer,
		completion:   completion,
		staging:      staging,
		pollInterval: pollInterval,
		logger:       logger.Named("collector_stage"),
		sem:          semaphore.NewWeighted(int64(concurrency)),
		inFlight:     make(map[string]struct{}),
	}
}

// Run spawns one long-lived driver per plugin collector plus the
// completion consumer, and blocks until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runCompletionConsumer(ctx)
	}()

	for _, c := range s.collectors {
		wg.Add(1)
		go func(c plugin.Collector) {
			defer wg.Done()
			s.runDriver(ctx, c)
		}(c)
	}

	wg.Wait()
	return nil
}

func (s *Stage) runDriver(ctx context.Context, c plugin.Collector) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		scraps, err := c.Collect(ctx)
		if err != nil {
			s.logger.Error("collector failed", zap.Error(err))
		} else {
			metrics.ScrapsCollected.Add(float64(len(scraps)))
			for _, sc := range scraps {
				s.handleScrap(ctx, sc)
			}
		}
		s.sem.Release(1)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleScrap dedups sc against the in-flight set, stages its file, and
// publishes it. On any per-scrap exception it logs and returns without
// removing the hash from in-flight: dedup safety is biased toward never
// double-publishing over eventually releasing a leaked entry.
func (s *Stage) handleScrap(ctx context.Context, sc scrap.Scrap) {
	if sc.Hash == "" {
		s.logger.Warn("collector returned scrap without hash, dropping", zap.String("filename", sc.Filename))
		return
	}

	s.mu.Lock()
	if _, seen := s.inFlight[sc.Hash]; seen {
		s.mu.Unlock()
		return
	}
	s.inFlight[sc.Hash] = struct{}{}
	s.mu.Unlock()

	mountedPath, uncPath, err := s.staging.Stage(ctx, sc)
	if err != nil {
		s.logger.Error("staging scrap failed", zap.String("hash", sc.Hash), zap.Error(err))
		return
	}

	scrapJSON, err := sc.ToJSON()
	if err != nil {
		s.logger.Error("marshalling scrap failed", zap.String("hash", sc.Hash), zap.Error(err))
		return
	}

	err = s.producer.PublishScrap(ctx, bus.ScrapEnvelope{
		ScrapData:   string(scrapJSON),
		MountedPath: mountedPath,
		UNCPath:     uncPath,
	})
	if err != nil {
		s.logger.Error("publishing scrap failed", zap.String("hash", sc.Hash), zap.Error(err))
		return
	}

	metrics.ScrapsPublished.WithLabelValues(sc.Source).Inc()
}

func (s *Stage) runCompletionConsumer(ctx context.Context) {
	for {
		deliveries, err := s.completion.GetMany(ctx, time.Second, 100)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("completion consumer failed", zap.Error(err))
			continue
		}

		for _, d := range deliveries {
			s.handleCompletion(d)
		}
	}
}

func (s *Stage) handleCompletion(d bus.Delivery) {
	defer d.Ack()

	var env bus.CompletionEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		s.logger.Error("completion message corrupt, dropping", zap.Error(err))
		return
	}

	if env.Status != string(scrap.StateProcessed) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[env.Hash]; !ok {
		// message for an unknown hash: silently dropped, no state change.
		return
	}
	delete(s.inFlight, env.Hash)
}

// InFlightCount reports the current in-flight set size, for tests and
// metrics.
func (s *Stage) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}
