// Package checkpoint persists per-session reconciliation progress (C10):
// a small embedded or external relational store recording operation_index,
// completed/total counts, and status, so a killed run can resume without
// re-executing completed operations.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/bamops/reconciler/internal/checkpoint/migrations"
	"github.com/bamops/reconciler/internal/config"
)

// Status enumerates a checkpoint's lifecycle state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Checkpoint is one persisted progress record.
type Checkpoint struct {
	SessionID            string
	BatchID              int
	OperationIndex       int
	TotalOperations      int
	CompletedOperations  int
	Status               Status
	UpdatedAt            time.Time
	Metadata             map[string]any
}

// Result is one persisted per-row outcome, used by the `history` CLI
// subcommand and by rollback.Generate.
type Result struct {
	SessionID     string
	RowID         string
	ObjectType    string
	OperationType string
	Success       bool
	ResourceID    *int64
	ErrorKind     string
	ErrorMessage  string
	DurationMS    int64
	Retried       bool
	// PriorState captures the entity's field values as observed before
	// this operation mutated it (update/delete only), so rollback can
	// restore or recreate it without a further remote round trip.
	PriorState map[string]any
	RecordedAt time.Time
}

// Store is the checkpoint-store contract. Both backends implement it
// identically so the executor and CLI never branch on profile.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)
	RecordResult(ctx context.Context, r *Result) error
	ResultsForSession(ctx context.Context, sessionID string) ([]*Result, error)
	Close() error
}

const migrationsDir = "internal/checkpoint/migrations/sql"

// sqlStore implements Store over database/sql, used for both the sqlite
// and postgres backends since the schema and queries are identical modulo
// placeholder syntax, which is hidden behind placeholder().
type sqlStore struct {
	db        *sql.DB
	logger    *slog.Logger
	postgres  bool
}

// NewStore selects sqlite or postgres per cfg.Checkpoint.Backend. Schema is
// migrated via goose before the store is returned.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Checkpoint.Backend {
	case config.StorageBackendSQLite:
		return newSQLiteStore(ctx, cfg, logger)
	case config.StorageBackendPostgres:
		return newPostgresStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Checkpoint.Backend)
	}
}

func newSQLiteStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if err := migrate(ctx, "sqlite", cfg.Checkpoint.SQLitePath, "sqlite3", logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Checkpoint.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to open sqlite store: %w", err)
	}
	return &sqlStore{db: db, logger: logger, postgres: false}, nil
}

func newPostgresStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	dsn := cfg.GetDatabaseURL()
	if err := migrate(ctx, "pgx", dsn, "postgres", logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to open postgres store: %w", err)
	}
	return &sqlStore{db: db, logger: logger, postgres: true}, nil
}

// migrate runs the checkpoint schema's goose migrations through the
// existing migration manager, which owns its own short-lived connection
// distinct from the store's runtime *sql.DB.
func migrate(ctx context.Context, driver, dsn, dialect string, logger *slog.Logger) error {
	mm, err := migrations.NewMigrationManager(&migrations.MigrationConfig{
		Driver:  driver,
		DSN:     dsn,
		Dialect: dialect,
		Dir:     migrationsDir,
		Table:   "goose_db_version",
		Timeout: 30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: failed to build migration manager: %w", err)
	}
	defer mm.Disconnect(ctx)

	if err := mm.Connect(ctx); err != nil {
		return fmt.Errorf("checkpoint: failed to connect for migrations: %w", err)
	}
	if err := mm.Up(ctx); err != nil {
		return fmt.Errorf("checkpoint: failed to apply migrations: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// placeholder returns the n-th bind placeholder for the active dialect.
func (s *sqlStore) placeholder(n int) string {
	if s.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	metaJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO checkpoints (session_id, batch_id, operation_index, total_operations, completed_operations, status, updated_at, metadata_json)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (session_id, batch_id) DO UPDATE SET
			operation_index = excluded.operation_index,
			total_operations = excluded.total_operations,
			completed_operations = excluded.completed_operations,
			status = excluded.status,
			updated_at = excluded.updated_at,
			metadata_json = excluded.metadata_json
	`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8))

	_, err = s.db.ExecContext(ctx, query, cp.SessionID, cp.BatchID, cp.OperationIndex, cp.TotalOperations, cp.CompletedOperations, string(cp.Status), cp.UpdatedAt, string(metaJSON))
	if err != nil {
		return fmt.Errorf("checkpoint: failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *sqlStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT session_id, batch_id, operation_index, total_operations, completed_operations, status, updated_at, metadata_json
		FROM checkpoints WHERE session_id = %s ORDER BY batch_id DESC LIMIT 1
	`, s.placeholder(1))

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var cp Checkpoint
	var status, metaJSON string
	if err := row.Scan(&cp.SessionID, &cp.BatchID, &cp.OperationIndex, &cp.TotalOperations, &cp.CompletedOperations, &status, &cp.UpdatedAt, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: failed to load latest checkpoint: %w", err)
	}
	cp.Status = Status(status)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("checkpoint: failed to decode metadata: %w", err)
		}
	}
	return &cp, nil
}

func (s *sqlStore) RecordResult(ctx context.Context, r *Result) error {
	priorJSON, err := json.Marshal(r.PriorState)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode prior state: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO results (session_id, row_id, object_type, operation_type, success, resource_id, error_kind, error_message, duration_ms, retried, prior_state_json, recorded_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (session_id, row_id) DO UPDATE SET
			object_type = excluded.object_type,
			operation_type = excluded.operation_type,
			success = excluded.success,
			resource_id = excluded.resource_id,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			duration_ms = excluded.duration_ms,
			retried = excluded.retried,
			prior_state_json = excluded.prior_state_json,
			recorded_at = excluded.recorded_at
	`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10), s.placeholder(11), s.placeholder(12))

	_, err = s.db.ExecContext(ctx, query, r.SessionID, r.RowID, r.ObjectType, r.OperationType, r.Success, r.ResourceID, r.ErrorKind, r.ErrorMessage, r.DurationMS, r.Retried, string(priorJSON), r.RecordedAt)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to record result: %w", err)
	}
	return nil
}

func (s *sqlStore) ResultsForSession(ctx context.Context, sessionID string) ([]*Result, error) {
	query := fmt.Sprintf(`
		SELECT session_id, row_id, object_type, operation_type, success, resource_id, error_kind, error_message, duration_ms, retried, prior_state_json, recorded_at
		FROM results WHERE session_id = %s ORDER BY recorded_at ASC
	`, s.placeholder(1))

	rs, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to list results: %w", err)
	}
	defer rs.Close()

	var out []*Result
	for rs.Next() {
		var r Result
		var priorJSON string
		if err := rs.Scan(&r.SessionID, &r.RowID, &r.ObjectType, &r.OperationType, &r.Success, &r.ResourceID, &r.ErrorKind, &r.ErrorMessage, &r.DurationMS, &r.Retried, &priorJSON, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("checkpoint: failed to scan result row: %w", err)
		}
		if priorJSON != "" {
			if err := json.Unmarshal([]byte(priorJSON), &r.PriorState); err != nil {
				return nil, fmt.Errorf("checkpoint: failed to decode prior state: %w", err)
			}
		}
		out = append(out, &r)
	}
	return out, rs.Err()
}
