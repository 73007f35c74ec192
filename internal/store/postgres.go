package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"otxsync/internal/metrics"
)

// PostgresOptions configures the Postgres-backed document store.
type PostgresOptions struct {
	DSN      string
	Schema   string // default public
	Table    string // default otx_pulses_raw
	MaxConns int    // default 2; a sequential loader needs few
}

func (o *PostgresOptions) defaults() {
	if o.Schema == "" {
		o.Schema = "public"
	}
	if o.Table == "" {
		o.Table = "otx_pulses_raw"
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 2
	}
}

// Postgres stores pulse documents in one JSONB table keyed by pulse_id.
type Postgres struct {
	pool  *pgxpool.Pool
	table string // quoted schema.table
}

// NewPostgres connects a pool against the configured DSN.
func NewPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	opts.defaults()
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	cfg.MaxConns = int32(opts.MaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	return &Postgres{
		pool:  pool,
		table: fmt.Sprintf("%q.%q", opts.Schema, opts.Table),
	}, nil
}

// EnsureSchema creates the raw-pulses table and its ingested_at index.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + p.table + ` (
			pulse_id    text PRIMARY KEY,
			doc         jsonb NOT NULL,
			ingested_at timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS otx_pulses_raw_ingested_at_idx
			ON ` + p.table + ` (ingested_at)`,
	}
	for _, stmt := range ddl {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

const upsertSQL = `INSERT INTO %s (pulse_id, doc, ingested_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (pulse_id) DO UPDATE
	SET doc = EXCLUDED.doc, ingested_at = EXCLUDED.ingested_at`

// UpsertBatch loads documents one statement at a time so a single bad
// record cannot poison the rest of the page.
func (p *Postgres) UpsertBatch(ctx context.Context, docs []Document) (LoadResult, error) {
	var res LoadResult
	if len(docs) == 0 {
		return res, nil
	}
	stmt := fmt.Sprintf(upsertSQL, p.table)
	for _, d := range docs {
		if ctx.Err() != nil {
			return res, errors.Wrap(ctx.Err(), "upsert batch interrupted")
		}
		body, err := json.Marshal(d.Body)
		if err != nil {
			slog.Warn("document not json-encodable", "pulse_id", d.PulseID, "err", err)
			res.FailedIDs = append(res.FailedIDs, d.PulseID)
			metrics.LoadFailures.Inc()
			continue
		}
		if _, err := p.pool.Exec(ctx, stmt, d.PulseID, body, d.IngestedAt); err != nil {
			slog.Warn("upsert failed", "pulse_id", d.PulseID, "err", err)
			res.FailedIDs = append(res.FailedIDs, d.PulseID)
			metrics.LoadFailures.Inc()
			continue
		}
		res.Succeeded++
		metrics.PulsesUpserted.Inc()
	}
	if res.Succeeded == 0 {
		return res, errors.Wrapf(ErrSystemicWrite, "%d of %d upserts failed", len(res.FailedIDs), len(docs))
	}
	return res, nil
}

func (p *Postgres) Close() { p.pool.Close() }
