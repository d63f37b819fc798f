// Package store persists run outcomes to Postgres and fetches uploaded
// documents from S3-compatible object storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zen-systems/careerflow/pkg/assemble"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// Execer is the subset of *pgxpool.Pool the run store needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the run tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id            TEXT PRIMARY KEY,
	pipeline      TEXT NOT NULL,
	document_ref  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	failed_stage  TEXT,
	error         TEXT,
	response      JSONB NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_results (
	run_id      TEXT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
	stage_id    TEXT NOT NULL,
	position    INTEGER NOT NULL,
	output_key  TEXT NOT NULL,
	status      TEXT NOT NULL,
	value       JSONB,
	error       TEXT,
	duration_ms BIGINT NOT NULL,
	PRIMARY KEY (run_id, stage_id)
);
`

const upsertRun = `INSERT INTO pipeline_runs (id, pipeline, document_ref, outcome, failed_stage, error, response, prompt_tokens, output_tokens, started_at, finished_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET outcome = EXCLUDED.outcome, failed_stage = EXCLUDED.failed_stage, error = EXCLUDED.error, response = EXCLUDED.response, prompt_tokens = EXCLUDED.prompt_tokens, output_tokens = EXCLUDED.output_tokens, finished_at = EXCLUDED.finished_at`

const upsertStage = `INSERT INTO stage_results (run_id, stage_id, position, output_key, status, value, error, duration_ms)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (run_id, stage_id) DO UPDATE SET status = EXCLUDED.status, value = EXCLUDED.value, error = EXCLUDED.error, duration_ms = EXCLUDED.duration_ms`

// RunStore writes finished runs.
type RunStore struct {
	db Execer
}

// NewRunStore wraps a pool or any other Execer.
func NewRunStore(db Execer) *RunStore {
	return &RunStore{db: db}
}

// Connect opens a pgx pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the run tables.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveRun upserts the run row and one row per executed stage. Saving the
// same run twice overwrites the earlier rows.
func (s *RunStore) SaveRun(ctx context.Context, run *pipeline.Run, resp *assemble.Response) error {
	if run == nil || resp == nil {
		return errors.New("save run: run and response are required")
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("save run %s: encode response: %w", run.ID, err)
	}
	usage := run.Usage()

	_, err = s.db.Exec(ctx, upsertRun,
		run.ID, run.Pipeline, run.DocumentRef, string(run.Outcome),
		nullable(run.FailedStage()), nullable(errString(run.Err)), body,
		usage.PromptTokens, usage.CompletionTokens, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	for i, res := range run.Results() {
		var value []byte
		if res.Value != nil {
			if value, err = json.Marshal(res.Value); err != nil {
				return fmt.Errorf("save run %s: encode stage %s: %w", run.ID, res.StageID, err)
			}
		}
		_, err = s.db.Exec(ctx, upsertStage,
			run.ID, res.StageID, i, res.OutputKey, string(res.Status),
			value, nullable(errString(res.Err)), res.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("save run %s: stage %s: %w", run.ID, res.StageID, err)
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
