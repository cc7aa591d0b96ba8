package local

import (
	"context"

	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/scanner"
	"github.com/krystianbajno/breachhunter/internal/scrap"
	"github.com/krystianbajno/breachhunter/internal/store/postgres"
)

// Collector sources scraps from the local filesystem watch directory.
type Collector struct {
	service *Service
	store   *postgres.Store
	logger  *zap.Logger
}

// NewCollector builds the local collector.
func NewCollector(service *Service, store *postgres.Store, logger *zap.Logger) *Collector {
	return &Collector{service: service, store: store, logger: logger.Named("local_collector")}
}

// Collect walks the watch directory, skipping files already mid-flight
// in Postgres, hashes each remaining file, and returns the resulting
// scraps. A per-file hashing error is logged and that file is skipped
// rather than aborting the whole collect.
func (c *Collector) Collect(ctx context.Context) ([]scrap.Scrap, error) {
	files := c.service.FetchScrapeFiles()
	if len(files) == 0 {
		return nil, nil
	}

	processing, err := c.store.GetProcessingFilenames(ctx)
	if err != nil {
		return nil, err
	}
	inProgress := make(map[string]struct{}, len(processing))
	for _, f := range processing {
		inProgress[f] = struct{}{}
	}

	var scraps []scrap.Scrap
	for _, f := range files {
		if _, seen := inProgress[f.Filename]; seen {
			continue
		}

		hash, err := scanner.HashFile(f.FilePath)
		if err != nil {
			c.logger.Error("hashing file failed", zap.String("path", f.FilePath), zap.Error(err))
			continue
		}

		occurrence := modTime(f.FilePath)
		scraps = append(scraps, scrap.Scrap{
			Hash:           hash,
			Source:         "local",
			Filename:       f.Filename,
			FilePath:       f.FilePath,
			State:          scrap.StateNew,
			Timestamp:      occurrence,
			OccurrenceTime: occurrence,
		})
	}

	return scraps, nil
}
