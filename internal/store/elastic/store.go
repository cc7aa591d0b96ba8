// Package elastic is the full-text chunk index keyed by scrap + chunk
// number. Built on the official Elasticsearch client, since no repo in the
// retrieval pack imports a search-index client directly (see
// SPEC_FULL.md §4.2).
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krystianbajno/breachhunter/internal/scanner"
	"github.com/krystianbajno/breachhunter/internal/scrap"
)

const chunksIndex = "scrapes_chunks"

// ErrIndexMissing is surfaced when the scrapes_chunks index has not been
// created; this is a fatal, startup-time condition per spec.md §4.2.
var ErrIndexMissing = fmt.Errorf("elasticsearch index %q not found", chunksIndex)

// ChunkBackReferenceSaver records the (scrap_id, chunk_number, elastic_id,
// title) back-reference row that is the only authoritative mapping
// between the relational and search tiers. Implemented by
// *postgres.Store; declared here as a narrow interface so this package
// does not import the store package back.
type ChunkBackReferenceSaver interface {
	SaveElasticChunk(ctx context.Context, scrapID int64, chunkNumber int, elasticID, title string) (int64, error)
}

// Store is the full-text chunk index.
type Store struct {
	client  *elasticsearch.Client
	backref ChunkBackReferenceSaver
	logger  *zap.Logger
}

// Config is the Elasticsearch connection configuration.
type Config struct {
	Host     string
	Port     int
	Scheme   string
	User     string
	Password string
}

func (c Config) address() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// Open builds the Elasticsearch client.
func Open(cfg Config, backref ChunkBackReferenceSaver, logger *zap.Logger) (*Store, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.address()},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("building elasticsearch client: %w", err)
	}
	return &Store{client: client, backref: backref, logger: logger.Named("elastic_store")}, nil
}

// SaveScrapChunk indexes a single chunk document and returns its
// Elasticsearch document id. A 404 response (index missing) is a fatal
// startup-time condition; any other error is retried by the caller at
// the chunk granularity.
func (s *Store) SaveScrapChunk(ctx context.Context, chunk scrap.ElasticChunk) (string, error) {
	body, err := json.Marshal(chunk)
	if err != nil {
		return "", fmt.Errorf("marshalling elastic chunk: %w", err)
	}

	req := esapi.IndexRequest{
		Index: chunksIndex,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return "", fmt.Errorf("indexing chunk %d for scrap %d: %w", chunk.ChunkNumber, chunk.ScrapID, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		s.logger.Error("index missing", zap.String("index", chunksIndex))
		return "", ErrIndexMissing
	}
	if res.IsError() {
		return "", fmt.Errorf("indexing chunk %d for scrap %d: elasticsearch returned %s", chunk.ChunkNumber, chunk.ScrapID, res.Status())
	}

	var decoded struct {
		ID string `json:"_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding index response for chunk %d of scrap %d: %w", chunk.ChunkNumber, chunk.ScrapID, err)
	}

	s.logger.Info("chunk indexed",
		zap.Int64("scrap_id", chunk.ScrapID),
		zap.Int("chunk_number", chunk.ChunkNumber),
		zap.String("elastic_id", decoded.ID))
	return decoded.ID, nil
}

// SaveScrapChunks reads sc.FilePath, splits it into ChunkSize-bounded
// chunks via the in-process scanner, and for each chunk concurrently
// indexes it into Elasticsearch then inserts its back-reference row
// (spec.md §4.2). Any chunk's error fails the whole save: the partial
// chunks already indexed remain (they are idempotent via the
// (scrap_id, chunk_number) natural key), and the scrap will be marked
// FAILED and may be re-attempted by startup reaping.
func (s *Store) SaveScrapChunks(ctx context.Context, sc scrap.Scrap) ([]string, error) {
	if _, err := os.Stat(sc.FilePath); err != nil {
		return nil, fmt.Errorf("stat %s before chunking: %w", sc.FilePath, err)
	}

	chunks, err := scanner.SplitFileIntoChunks(sc.FilePath, scanner.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("splitting %s into chunks: %w", sc.FilePath, err)
	}

	elasticIDs := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			elasticChunk := scrap.ElasticChunk{
				ScrapID:     sc.ID,
				ChunkNumber: chunk.Number,
				Content:     chunk.Content,
				Title:       sc.Filename,
				Hash:        sc.Hash,
			}

			elasticID, err := s.SaveScrapChunk(gctx, elasticChunk)
			if err != nil {
				return fmt.Errorf("saving chunk %d of scrap %d: %w", chunk.Number, sc.ID, err)
			}

			if _, err := s.backref.SaveElasticChunk(gctx, sc.ID, chunk.Number, elasticID, sc.Filename); err != nil {
				return fmt.Errorf("saving back-reference for chunk %d of scrap %d: %w", chunk.Number, sc.ID, err)
			}

			elasticIDs[i] = elasticID
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		saved := make([]string, 0, len(elasticIDs))
		for _, id := range elasticIDs {
			if id != "" {
				saved = append(saved, id)
			}
		}
		return saved, err
	}

	return elasticIDs, nil
}
