// File: internal/store/store.go
// Description: PostgreSQL-backed vault for terminal signup runs. Credentials
// for created accounts have to outlive the process, so every run that reaches
// a terminal state is written here together with its outcome.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements schemas.RunStore on PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RunStore = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS signup_runs (
  id              TEXT PRIMARY KEY,
  platform        TEXT NOT NULL,
  signup_url      TEXT NOT NULL,
  recipient       TEXT NOT NULL DEFAULT '',
  username        TEXT NOT NULL,
  password        TEXT NOT NULL,
  state           TEXT NOT NULL,
  failure_kind    TEXT,
  failure_state   TEXT,
  failure_message TEXT,
  detail          JSONB NOT NULL DEFAULT '{}'::jsonb,
  started_at      TIMESTAMPTZ NOT NULL,
  ended_at        TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the signup_runs table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure signup_runs schema: %w", err)
	}
	return nil
}

const insertRunSQL = `
INSERT INTO signup_runs
  (id, platform, signup_url, recipient, username, password, state,
   failure_kind, failure_state, failure_message, detail, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  failure_kind = EXCLUDED.failure_kind,
  failure_state = EXCLUDED.failure_state,
  failure_message = EXCLUDED.failure_message,
  detail = EXCLUDED.detail,
  ended_at = EXCLUDED.ended_at`

// PersistRun writes one terminal run. Idempotent on run ID so a crash between
// write and acknowledgment cannot duplicate rows.
func (s *Store) PersistRun(ctx context.Context, run *schemas.SignupRun) error {
	detail, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run detail: %w", err)
	}

	var failureKind, failureState, failureMessage *string
	if run.Failure != nil {
		failureKind = strPtr(string(run.Failure.Kind))
		failureState = strPtr(string(run.Failure.State))
		failureMessage = strPtr(run.Failure.Message)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID,
		string(run.Request.Profile.ID),
		run.Request.Profile.SignupURL,
		run.Credentials.Recipient,
		run.Credentials.Username,
		run.Credentials.Password,
		string(run.State),
		failureKind, failureState, failureMessage,
		detail,
		run.StartedAt.UTC(),
		run.EndedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert signup run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("Run persisted.",
		zap.String("run_id", run.ID),
		zap.String("state", string(run.State)))
	return nil
}

func strPtr(s string) *string { return &s }

// NoopStore discards runs. Used when database.url is not configured; the CLI
// still prints credentials to the operator.
type NoopStore struct{}

var _ schemas.RunStore = NoopStore{}

func (NoopStore) PersistRun(context.Context, *schemas.SignupRun) error { return nil }
