// Package coordinator builds the dependency graph, runs migrations, and
// starts both pipeline stages, matching spec.md §4.8's responsibility
// list.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krystianbajno/breachhunter/internal/bus"
	"github.com/krystianbajno/breachhunter/internal/config"
	"github.com/krystianbajno/breachhunter/internal/metrics"
	"github.com/krystianbajno/breachhunter/internal/pipeline/collector"
	"github.com/krystianbajno/breachhunter/internal/pipeline/processing"
	"github.com/krystianbajno/breachhunter/internal/plugin"
	_ "github.com/krystianbajno/breachhunter/internal/plugin/local"
	"github.com/krystianbajno/breachhunter/internal/processor"
	"github.com/krystianbajno/breachhunter/internal/scanner"
	"github.com/krystianbajno/breachhunter/internal/staging"
	"github.com/krystianbajno/breachhunter/internal/store/elastic"
	"github.com/krystianbajno/breachhunter/internal/store/postgres"
)

// Coordinator owns every long-lived collaborator and the two pipeline
// stages built from them.
type Coordinator struct {
	cfg    *config.Config
	logger *zap.Logger

	store         *postgres.Store
	elasticStore  *elastic.Store
	bus           *bus.Bus
	coreProcessor *processor.CoreProcessor

	collectorStage  *collector.Stage
	processingStage *processing.Stage
	metricsServer   *metrics.Server
}

// New builds every collaborator named in spec.md §4.8, in dependency
// order: stores, scanner pool, core processor, bus, plugins, stages.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Coordinator, error) {
	pgCfg := cfg.Postgres()
	store, err := postgres.Open(ctx, postgres.Config{
		Database: pgCfg.Database,
		User:     pgCfg.User,
		Password: pgCfg.Password,
		Host:     pgCfg.Host,
		Port:     pgCfg.Port,
		MaxConns: int32(cfg.ProcessorConcurrency()),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}

	esCfg := cfg.Elasticsearch()
	elasticStore, err := elastic.Open(elastic.Config{
		Host:     esCfg.Host,
		Port:     esCfg.Port,
		Scheme:   esCfg.Scheme,
		User:     esCfg.User,
		Password: esCfg.Password,
	}, store, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening elastic store: %w", err)
	}

	scannerPool := scanner.NewPool(cfg.ProcessorConcurrency())
	coreProcessor := processor.New(store, elasticStore, scannerPool, logger)

	busCfg := cfg.Bus()
	msgBus, err := bus.Dial(bus.Config{
		URL:            busCfg.BootstrapServers,
		Topic:          busCfg.Topic,
		ProcessedTopic: busCfg.ProcessedTopic,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("dialing bus: %w", err)
	}

	deps := plugin.Dependencies{Config: cfg, Store: store, CoreProcessor: coreProcessor, Logger: logger}
	collectors, processors, err := plugin.Load(ctx, deps)
	if err != nil {
		msgBus.Close()
		store.Close()
		return nil, fmt.Errorf("loading plugins: %w", err)
	}

	var collectorStage *collector.Stage
	if cfg.Collecting() {
		scrapProducer, err := msgBus.NewProducer(busCfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("opening scrap producer: %w", err)
		}
		completionConsumer, err := msgBus.NewConsumer(busCfg.ProcessedTopic, "notification_group", 100)
		if err != nil {
			return nil, fmt.Errorf("opening completion consumer: %w", err)
		}
		collectorStage = collector.New(collectors, scrapProducer, completionConsumer, staging.NewLocal(logger), collector.Config{
			Concurrency:  cfg.CollectorConcurrency(),
			PollInterval: time.Duration(cfg.PollingInterval()) * time.Second,
		}, logger)
	}

	var processingStage *processing.Stage
	if cfg.Processing() {
		scrapConsumer, err := msgBus.NewConsumer(busCfg.Topic, "processing_group", cfg.ProcessorConcurrency())
		if err != nil {
			return nil, fmt.Errorf("opening scrap consumer: %w", err)
		}
		completionProducer, err := msgBus.NewProducer(busCfg.ProcessedTopic)
		if err != nil {
			return nil, fmt.Errorf("opening completion producer: %w", err)
		}
		processingStage = processing.New(processors, scrapConsumer, completionProducer, processing.Config{
			Concurrency: cfg.ProcessorConcurrency(),
			BatchSize:   cfg.ProcessorConcurrency(),
		}, logger)
	}

	return &Coordinator{
		cfg:             cfg,
		logger:          logger.Named("coordinator"),
		store:           store,
		elasticStore:    elasticStore,
		bus:             msgBus,
		coreProcessor:   coreProcessor,
		collectorStage:  collectorStage,
		processingStage: processingStage,
		metricsServer:   metrics.NewServer(":9109"),
	}, nil
}

// RunMigrations applies pending schema migrations, then reaps scraps stuck
// in PROCESSING from a prior crash. Must be called before Run. Migrations
// run first: on a fresh database the scrapes table doesn't exist yet, and
// the reaper's DELETE would fail against a table migrations hasn't created.
func (c *Coordinator) RunMigrations(ctx context.Context) error {
	runner := postgres.NewMigrationRunner(postgres.Config{
		Database: c.cfg.Postgres().Database,
		User:     c.cfg.Postgres().User,
		Password: c.cfg.Postgres().Password,
		Host:     c.cfg.Postgres().Host,
		Port:     c.cfg.Postgres().Port,
	}, c.cfg.MigrationsDir(), c.logger)

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if err := c.store.DeleteProcessingScraps(ctx); err != nil {
		return fmt.Errorf("reaping stuck scraps: %w", err)
	}

	return nil
}

// Run starts both enabled stages and the metrics server, blocking until
// ctx is cancelled or a stage exits with an error.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.collectorStage != nil {
		g.Go(func() error { return c.collectorStage.Run(gctx) })
	}
	if c.processingStage != nil {
		g.Go(func() error { return c.processingStage.Run(gctx) })
	}
	g.Go(func() error {
		gauges := metrics.InFlightGauges{}
		if c.collectorStage != nil {
			gauges.Collector = c.collectorStage.InFlightCount
		}
		if c.processingStage != nil {
			gauges.Processing = c.processingStage.InFlightCount
		}
		return c.metricsServer.Run(gctx, gauges)
	})

	return g.Wait()
}

// Close releases every long-lived collaborator.
func (c *Coordinator) Close() {
	c.bus.Close()
	c.store.Close()
}
