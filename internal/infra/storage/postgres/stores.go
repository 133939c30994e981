// Package postgres implements the durable harvest stores on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/internal/infra/storage"
)

var (
	_ harvest.ResultStore = (*Store)(nil)
	_ harvest.FailedStore = (*Store)(nil)
	_ harvest.StatusStore = (*Store)(nil)
)

// Store keeps results, failures and the checkpoint in three tables. Result
// saves replace the table contents in one transaction; failure saves only
// ever insert, so previously recorded failures are never dropped.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a Store over pool.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

// Harvest returns the store bundled for a runner.
func (s *Store) Harvest() harvest.Stores {
	return harvest.Stores{Results: s, Failed: s, Status: s}
}

const loadResultsQuery = `SELECT cid, period, amount FROM harvest_results ORDER BY cid, period`

func (s *Store) LoadResults(ctx context.Context) (harvest.ResultSet, error) {
	var rs harvest.ResultSet
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_results", nil, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, loadResultsQuery)
		if err != nil {
			return fmt.Errorf("query results: %w", err)
		}

		records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (harvest.ResultRow, error) {
			var r harvest.ResultRow
			err := row.Scan(&r.ID, &r.Period, &r.Value)
			return r, err
		})
		if err != nil {
			return fmt.Errorf("scan results: %w", err)
		}

		rs = harvest.ResultSetFromRows(records)
		return nil
	})
	return rs, err
}

func (s *Store) SaveResults(ctx context.Context, rs harvest.ResultSet) error {
	rows := rs.Rows()
	attrs := []attribute.KeyValue{attribute.Int("items", len(rs)), attribute.Int("rows", len(rows))}

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_results", attrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `DELETE FROM harvest_results`); err != nil {
				return fmt.Errorf("clear results: %w", err)
			}

			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"harvest_results"},
				[]string{"cid", "period", "amount"},
				pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
					return []any{rows[i].ID, rows[i].Period, rows[i].Value}, nil
				}),
			)
			if err != nil {
				return fmt.Errorf("copy results: %w", err)
			}
			return nil
		})
	})
}

func (s *Store) LoadFailed(ctx context.Context) (harvest.FailedSet, error) {
	fs := harvest.NewFailedSet()
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_failed", nil, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT cid FROM harvest_failed`)
		if err != nil {
			return fmt.Errorf("query failed set: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("scan failed set: %w", err)
		}
		for _, id := range ids {
			fs.Add(harvest.WorkItem(id))
		}
		return nil
	})
	return fs, err
}

const insertFailedQuery = `INSERT INTO harvest_failed (cid) VALUES ($1) ON CONFLICT (cid) DO NOTHING`

func (s *Store) SaveFailed(ctx context.Context, fs harvest.FailedSet) error {
	if len(fs) == 0 {
		return nil
	}

	attrs := []attribute.KeyValue{attribute.Int("items", len(fs))}
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_failed", attrs, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, id := range fs.Sorted() {
			batch.Queue(insertFailedQuery, id)
		}

		br := s.pool.SendBatch(ctx, batch)
		for range fs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert failed id: %w", err)
			}
		}
		return br.Close()
	})
}

const loadStatusQuery = `
SELECT version, last_processed, total_processed, start_time, last_updated
FROM harvest_status
WHERE id = 1`

func (s *Store) LoadStatus(ctx context.Context) (harvest.ProgressStatus, error) {
	st := harvest.NewProgressStatus()
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_status", nil, func(ctx context.Context) error {
		var rec harvest.ProgressStatus
		err := s.pool.QueryRow(ctx, loadStatusQuery).Scan(
			&rec.Version,
			&rec.LastProcessedIndex,
			&rec.TotalProcessed,
			&rec.StartTime,
			&rec.LastUpdated,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query status: %w", err)
		}

		if st, err = rec.Normalize(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return harvest.NewProgressStatus(), err
	}
	return st, nil
}

const saveStatusQuery = `
INSERT INTO harvest_status (id, version, last_processed, total_processed, start_time, last_updated)
VALUES (1, $1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    version = EXCLUDED.version,
    last_processed = EXCLUDED.last_processed,
    total_processed = EXCLUDED.total_processed,
    start_time = EXCLUDED.start_time,
    last_updated = EXCLUDED.last_updated`

func (s *Store) SaveStatus(ctx context.Context, st harvest.ProgressStatus) error {
	attrs := []attribute.KeyValue{attribute.Int("last_processed", st.LastProcessedIndex)}
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_status", attrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, saveStatusQuery,
			harvest.CurrentStatusVersion,
			st.LastProcessedIndex,
			st.TotalProcessed,
			st.StartTime,
			st.LastUpdated,
		)
		if err != nil {
			return fmt.Errorf("upsert status: %w", err)
		}
		return nil
	})
}
