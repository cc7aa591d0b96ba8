// Package postgres is the authoritative state store: scrap references,
// classifier patterns, migration records, and Elastic back-references.
// Built on pgxpool, the teacher's Postgres driver (document-chunker/main.go).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/scrap"
)

// Config is the connection configuration for the store's pool.
type Config struct {
	Database string
	User     string
	Password string
	Host     string
	Port     int
	// MaxConns should be sized to at least (collector fan-out + processor
	// fan-out), per spec.md §4.1's connection discipline.
	MaxConns int32
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// Store is the connection pool shared across all collector and processor
// tasks; isolation is per-connection.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects the pool. Failure here is a fatal startup condition per
// spec.md §7.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger.Named("postgres_store")}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool, for the migration runner which needs
// a *sql.DB-compatible connection string rather than the pgx interface.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// SaveScrapReference inserts a new scrapes row and returns its id. When
// state is StateProcessing, processing_start_time is set to NOW().
func (s *Store) SaveScrapReference(ctx context.Context, sc scrap.Scrap, state scrap.State) (int64, error) {
	const query = `
		INSERT INTO scrapes (hash, source, filename, scrape_time, file_path, state, timestamp, processing_start_time, occurrence_time)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), NULLIF($3, ''), NOW(), NULLIF($4, ''), $5, $6, CASE WHEN $5 = 'PROCESSING' THEN NOW() ELSE NULL END, $7)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query, sc.Hash, sc.Source, sc.Filename, sc.FilePath, string(state), sc.Timestamp, sc.OccurrenceTime).Scan(&id)
	if err != nil {
		s.logger.Error("failed to save scrap reference", zap.String("hash", sc.Hash), zap.Error(err))
		return 0, fmt.Errorf("saving scrap reference: %w", err)
	}
	return id, nil
}

// UpdateScrapState performs the unconditional state write used for every
// terminal transition.
func (s *Store) UpdateScrapState(ctx context.Context, id int64, state scrap.State) error {
	const query = `UPDATE scrapes SET state = $1 WHERE id = $2`
	if _, err := s.pool.Exec(ctx, query, string(state), id); err != nil {
		s.logger.Error("failed to update scrap state", zap.Int64("scrap_id", id), zap.String("state", string(state)), zap.Error(err))
		return fmt.Errorf("updating scrap %d state to %s: %w", id, state, err)
	}
	return nil
}

// UpdateScrapClass sets the classification label on a scrap.
func (s *Store) UpdateScrapClass(ctx context.Context, id int64, class string) error {
	const query = `UPDATE scrapes SET class = $1 WHERE id = $2`
	if _, err := s.pool.Exec(ctx, query, class, id); err != nil {
		s.logger.Error("failed to update scrap class", zap.Int64("scrap_id", id), zap.Error(err))
		return fmt.Errorf("updating scrap %d class: %w", id, err)
	}
	return nil
}

func scanScrap(row pgx.Row) (scrap.Scrap, error) {
	var sc scrap.Scrap
	var state string
	var hash, source, filename, filePath *string
	err := row.Scan(&sc.ID, &hash, &source, &filename, &filePath, &state, &sc.Timestamp, &sc.OccurrenceTime)
	if err != nil {
		return scrap.Scrap{}, err
	}
	sc.State = scrap.State(state)
	if hash != nil {
		sc.Hash = *hash
	}
	if source != nil {
		sc.Source = *source
	}
	if filename != nil {
		sc.Filename = *filename
	}
	if filePath != nil {
		sc.FilePath = *filePath
	}
	return sc, nil
}

// GetScrapByID recovers a scrap's row, used to recover a hash for an
// in-memory scrap that lost it.
func (s *Store) GetScrapByID(ctx context.Context, id int64) (*scrap.Scrap, error) {
	const query = `
		SELECT id, hash, source, filename, file_path, state, timestamp, occurrence_time
		FROM scrapes WHERE id = $1`

	sc, err := scanScrap(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to fetch scrap by id", zap.Int64("scrap_id", id), zap.Error(err))
		return nil, fmt.Errorf("fetching scrap %d: %w", id, err)
	}
	return &sc, nil
}

// GetUnprocessedScraps returns rows in states NEW or PROCESSING, for
// startup reaping / replay.
func (s *Store) GetUnprocessedScraps(ctx context.Context) ([]scrap.Scrap, error) {
	const query = `
		SELECT id, hash, source, filename, file_path, state, timestamp, occurrence_time
		FROM scrapes WHERE state IN ('NEW', 'PROCESSING')`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		s.logger.Error("failed to fetch unprocessed scraps", zap.Error(err))
		return nil, fmt.Errorf("fetching unprocessed scraps: %w", err)
	}
	defer rows.Close()

	var out []scrap.Scrap
	for rows.Next() {
		sc, err := scanScrap(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning unprocessed scrap row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// GetProcessingFilenames lists filenames of scraps currently mid-flight,
// used by collectors to avoid re-ingesting files already being worked by
// another process.
func (s *Store) GetProcessingFilenames(ctx context.Context) ([]string, error) {
	const query = `SELECT filename FROM scrapes WHERE state = 'PROCESSING'`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		s.logger.Error("failed to fetch processing filenames", zap.Error(err))
		return nil, fmt.Errorf("fetching processing filenames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name *string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning processing filename: %w", err)
		}
		if name != nil {
			names = append(names, *name)
		}
	}
	return names, rows.Err()
}

// GetClassifierPatterns loads the ordered pattern table.
func (s *Store) GetClassifierPatterns(ctx context.Context) ([]scrap.Pattern, error) {
	const query = `SELECT pattern, class FROM classifier_patterns ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		s.logger.Error("failed to fetch classifier patterns", zap.Error(err))
		return nil, fmt.Errorf("fetching classifier patterns: %w", err)
	}
	defer rows.Close()

	var out []scrap.Pattern
	for rows.Next() {
		var p scrap.Pattern
		if err := rows.Scan(&p.Regex, &p.Class); err != nil {
			return nil, fmt.Errorf("scanning classifier pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IsHashProcessed reports whether any row with hash is in the terminal
// PROCESSED state.
func (s *Store) IsHashProcessed(ctx context.Context, hash string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM scrapes WHERE hash = $1 AND state = 'PROCESSED')`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, hash).Scan(&exists); err != nil {
		s.logger.Error("failed to check hash processed", zap.String("hash", hash), zap.Error(err))
		return false, fmt.Errorf("checking hash %s processed: %w", hash, err)
	}
	return exists, nil
}

// SaveElasticChunk inserts the back-reference row that is the only
// authoritative mapping between the relational and search tiers.
func (s *Store) SaveElasticChunk(ctx context.Context, scrapID int64, chunkNumber int, elasticID, title string) (int64, error) {
	const query = `
		INSERT INTO elastic_chunks (scrap_id, chunk_number, elastic_id, title)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scrap_id, chunk_number) DO UPDATE SET elastic_id = EXCLUDED.elastic_id, title = EXCLUDED.title
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query, scrapID, chunkNumber, elasticID, title).Scan(&id)
	if err != nil {
		s.logger.Error("failed to save elastic chunk", zap.Int64("scrap_id", scrapID), zap.Int("chunk_number", chunkNumber), zap.Error(err))
		return 0, fmt.Errorf("saving elastic chunk %d for scrap %d: %w", chunkNumber, scrapID, err)
	}
	return id, nil
}

// DeleteProcessingScraps is the startup reaper: it removes every scrap
// stuck in PROCESSING from a prior crash.
func (s *Store) DeleteProcessingScraps(ctx context.Context) error {
	const query = `DELETE FROM scrapes WHERE state = 'PROCESSING'`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		s.logger.Error("failed to delete processing scraps", zap.Error(err))
		return fmt.Errorf("deleting processing scraps: %w", err)
	}
	return nil
}
