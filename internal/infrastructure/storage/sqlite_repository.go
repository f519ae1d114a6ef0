package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/ports"
)

const resultsTable = "analysis_results"

// SQLiteRepository persists analysis results into a SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.ResultRepository = (*SQLiteRepository)(nil)

// Open connects to the database at path and migrates it to the latest schema.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pipeline and API reads
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, _, err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewSQLiteRepository(db), nil
}

// NewSQLiteRepository wires an already migrated sql.DB.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Close releases the underlying connection pool.
func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// AlreadyAnalyzed returns the keys that already have a real analysis stored.
// Placeholder rows do not count, so those items are retried on the next run.
func (r *SQLiteRepository) AlreadyAnalyzed(ctx context.Context, keys []string) (map[string]bool, error) {
	if r.db == nil || len(keys) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := sq.Select("item_key").
		From(resultsTable).
		Where(sq.Eq{"item_key": keys}).
		Where(sq.NotEq{"engine_used": domain.PlaceholderEngine}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyzed: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan key: %w", err)
		}
		result[key] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// SaveResults upserts every result of a run in one transaction.
func (r *SQLiteRepository) SaveResults(ctx context.Context, runID string, results []domain.AnalysisResult) error {
	if r.db == nil || len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, res := range results {
		if err := upsert(ctx, tx, runID, res); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, runID string, res domain.AnalysisResult) error {
	entities := res.RelatedEntities
	if entities == nil {
		entities = []string{}
	}
	encoded, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}

	query, args, err := sq.Insert(resultsTable).
		Columns("item_key", "run_id", "title", "impact_score", "rationale", "related_entities", "engine_used", "source", "url", "analyzed_at").
		Values(res.ItemKey, runID, res.Title, res.ImpactScore, res.Rationale, string(encoded), res.EngineUsed, res.Source, res.URL, res.AnalyzedAt.UTC()).
		Suffix(`ON CONFLICT (item_key) DO UPDATE
              SET run_id = excluded.run_id,
                  title = excluded.title,
                  impact_score = excluded.impact_score,
                  rationale = excluded.rationale,
                  related_entities = excluded.related_entities,
                  engine_used = excluded.engine_used,
                  analyzed_at = excluded.analyzed_at,
                  updated_at = CURRENT_TIMESTAMP`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert result %s: %w", res.ItemKey, err)
	}
	return nil
}

// RunResults loads the stored results of one run ordered by score.
func (r *SQLiteRepository) RunResults(ctx context.Context, runID string) ([]domain.AnalysisResult, error) {
	query, args, err := sq.Select("item_key", "title", "impact_score", "rationale", "related_entities", "engine_used", "source", "url", "analyzed_at").
		From(resultsTable).
		Where(sq.Eq{"run_id": runID}).
		OrderBy("impact_score DESC", "item_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run results: %w", err)
	}
	defer rows.Close()

	var results []domain.AnalysisResult
	for rows.Next() {
		var (
			res        domain.AnalysisResult
			entities   string
			analyzedAt time.Time
		)
		if err := rows.Scan(&res.ItemKey, &res.Title, &res.ImpactScore, &res.Rationale, &entities, &res.EngineUsed, &res.Source, &res.URL, &analyzedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(entities), &res.RelatedEntities); err != nil {
			return nil, fmt.Errorf("decode entities for %s: %w", res.ItemKey, err)
		}
		res.AnalyzedAt = analyzedAt
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}
