// Package store persists run results to PostgreSQL when a database is configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/pipeline"
	"github.com/wonny/edukpi/pkg/logger"
)

// batchSize bounds the statements queued per round trip
const batchSize = 1000

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS kpi;

CREATE TABLE IF NOT EXISTS kpi.runs (
	run_id      UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	master_rows INTEGER NOT NULL,
	summary     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS kpi.metrics (
	family            TEXT NOT NULL,
	year              INTEGER NOT NULL,
	metric            TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	entity_name       TEXT NOT NULL,
	demographic_group TEXT NOT NULL,
	value             DOUBLE PRECISION,
	context           JSONB NOT NULL DEFAULT '{}',
	run_id            UUID NOT NULL,
	PRIMARY KEY (family, year, metric, entity_id, demographic_group)
);

CREATE TABLE IF NOT EXISTS kpi.demographic_audit (
	run_id          UUID NOT NULL,
	family          TEXT NOT NULL,
	year            INTEGER NOT NULL,
	finding         TEXT NOT NULL,
	label           TEXT NOT NULL,
	observed_labels TEXT NOT NULL,
	PRIMARY KEY (run_id, family, year, finding, label)
);
`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository writes KPI tables, audit findings and run summaries
type Repository struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewRepository creates a new Repository instance
func NewRepository(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: log.WithField("module", "store"),
	}
}

// EnsureSchema creates the kpi schema and tables when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveRun stores every family table, the audit findings and the summary
// in one transaction. Each saved family's stored rows are replaced, so rows
// that left the source data do not survive.
func (r *Repository) SaveRun(ctx context.Context, res *pipeline.Result) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveRunSummary(ctx, tx, res.Summary()); err != nil {
		return err
	}

	total := 0
	for _, fr := range res.Families {
		if err := replaceKPIRows(ctx, tx, res.RunID, fr.Family, fr.Table.Rows); err != nil {
			return fmt.Errorf("family %s: %w", fr.Family, err)
		}
		total += len(fr.Table.Rows)
	}

	if err := saveAudit(ctx, tx, res.RunID, res.Audit); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"run_id": res.RunID,
		"rows":   total,
	}).Info("Run saved")

	return nil
}

// CountRows returns the stored row count of a family
func (r *Repository) CountRows(ctx context.Context, family string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kpi.metrics WHERE family = $1`, family).Scan(&n)
	return n, err
}

func saveRunSummary(ctx context.Context, q querier, s pipeline.RunSummary) error {
	summaryJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	query := `
		INSERT INTO kpi.runs (run_id, started_at, finished_at, master_rows, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			master_rows = EXCLUDED.master_rows,
			summary = EXCLUDED.summary`

	if _, err := q.Exec(ctx, query, s.RunID, s.StartedAt, s.FinishedAt, s.MasterRows, summaryJSON); err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

// replaceKPIRows deletes a family's stored rows and inserts the new table
func replaceKPIRows(ctx context.Context, q querier, runID, family string, rows []contracts.KPIRow) error {
	if _, err := q.Exec(ctx, `DELETE FROM kpi.metrics WHERE family = $1`, family); err != nil {
		return fmt.Errorf("clear kpi rows: %w", err)
	}
	return saveKPIRows(ctx, q, runID, family, rows)
}

func saveKPIRows(ctx context.Context, q querier, runID, family string, rows []contracts.KPIRow) error {
	query := `
		INSERT INTO kpi.metrics
			(family, year, metric, entity_id, entity_name, demographic_group, value, context, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (family, year, metric, entity_id, demographic_group) DO UPDATE SET
			entity_name = EXCLUDED.entity_name,
			value = EXCLUDED.value,
			context = EXCLUDED.context,
			run_id = EXCLUDED.run_id`

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		batch := &pgx.Batch{}
		for _, row := range rows[start:end] {
			args, err := kpiArgs(runID, family, row)
			if err != nil {
				return err
			}
			batch.Queue(query, args...)
		}

		if err := execBatch(ctx, q, batch); err != nil {
			return fmt.Errorf("save kpi rows: %w", err)
		}
	}
	return nil
}

func saveAudit(ctx context.Context, q querier, runID string, entries []contracts.DemographicAuditEntry) error {
	query := `
		INSERT INTO kpi.demographic_audit (run_id, family, year, finding, label, observed_labels)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range entries {
		for _, f := range e.Findings() {
			batch.Queue(query, runID, f.Family, f.Year, f.Kind, f.Label, f.ObservedLabels)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := execBatch(ctx, q, batch); err != nil {
		return fmt.Errorf("save audit: %w", err)
	}
	return nil
}

func execBatch(ctx context.Context, q querier, batch *pgx.Batch) error {
	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// kpiArgs converts a row to statement arguments; NA becomes NULL
func kpiArgs(runID, family string, row contracts.KPIRow) ([]any, error) {
	var value *float64
	if row.Value.Valid {
		v := row.Value.Number
		value = &v
	}

	ctxMap := row.Context
	if ctxMap == nil {
		ctxMap = map[string]string{}
	}
	contextJSON, err := json.Marshal(ctxMap)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	return []any{
		family,
		row.Year,
		row.Metric,
		row.EntityID,
		row.EntityName,
		row.Group,
		value,
		contextJSON,
		runID,
	}, nil
}
