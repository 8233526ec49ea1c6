package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	domain "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
)

// PostgresConfig configures the PostgreSQL backend. Empty fields fall
// back to the standard PG* environment variables.
type PostgresConfig struct {
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	SSL      bool   `json:"ssl,omitempty" yaml:"ssl,omitempty"`
}

// PostgresRunStore implements RunStore using PostgreSQL.
type PostgresRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewPostgresRunStore connects to PostgreSQL and prepares the schema.
func NewPostgresRunStore(ctx context.Context, config PostgresConfig) (*PostgresRunStore, error) {
	// Override from environment if not set
	if config.Host == "" {
		config.Host = getEnvOrDefault("PGHOST", "localhost")
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.User == "" {
		config.User = getEnvOrDefault("PGUSER", "postgres")
	}
	if config.Password == "" {
		config.Password = os.Getenv("PGPASSWORD")
	}
	if config.Database == "" {
		config.Database = os.Getenv("PGDATABASE")
	}

	db, err := sql.Open("postgres", buildConnectionString(config))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", domain.ErrStoreInitFailed, err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", domain.ErrStoreInitFailed, err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// buildConnectionString constructs a PostgreSQL connection string.
func buildConnectionString(config PostgresConfig) string {
	sslMode := "disable"
	if config.SSL {
		sslMode = "require"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Database, sslMode,
	)

	if config.Password != "" {
		connStr += fmt.Sprintf(" password=%s", config.Password)
	}

	return connStr
}

// initSchema creates the database schema.
func (s *PostgresRunStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS ctdr_runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			config BYTEA,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS ctdr_task_results (
			run_id TEXT NOT NULL,
			task_index INTEGER NOT NULL,
			task_name TEXT NOT NULL,
			steps INTEGER NOT NULL,
			examples INTEGER NOT NULL,
			avg_loss DOUBLE PRECISION NOT NULL,
			avg_penalty DOUBLE PRECISION NOT NULL,
			accuracies TEXT,
			finalized_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, task_index)
		);

		CREATE TABLE IF NOT EXISTS ctdr_anchors (
			run_id TEXT NOT NULL,
			task_count INTEGER NOT NULL,
			checkpoint BYTEA NOT NULL,
			importance BYTEA NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, task_count)
		);

		CREATE INDEX IF NOT EXISTS idx_ctdr_runs_started ON ctdr_runs(started_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", domain.ErrStoreInitFailed, err)
	}

	return nil
}

// CreateRun records a new run.
func (s *PostgresRunStore) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ctdr_runs (id, name, status, config, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, run.ID, run.Name, string(run.Status), []byte(run.Config), run.Error, run.StartedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if affected == 0 {
		return domain.ErrRunExists
	}
	return nil
}

// UpdateRunStatus moves a run to a new lifecycle state.
func (s *PostgresRunStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	var completedAt interface{}
	if status == domain.RunStatusCompleted || status == domain.RunStatusFailed {
		completedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ctdr_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4
	`, string(status), errMsg, completedAt, runID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// GetRun loads one run by ID.
func (s *PostgresRunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, config, error, started_at, completed_at
		FROM ctdr_runs WHERE id = $1
	`, runID)

	run, err := scanPostgresRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns runs most recent first.
func (s *PostgresRunStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	query := `
		SELECT id, name, status, config, error, started_at, completed_at
		FROM ctdr_runs ORDER BY started_at DESC, id DESC
	`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0)
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run together with its task results and anchors.
func (s *PostgresRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM ctdr_runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ctdr_task_results WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ctdr_anchors WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	return nil
}

// SaveTaskResult records the summary of one finished task.
func (s *PostgresRunStore) SaveTaskResult(ctx context.Context, result *domain.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	var accuraciesJSON []byte
	if result.Accuracies != nil {
		var err error
		accuraciesJSON, err = json.Marshal(result.Accuracies)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ctdr_task_results
			(run_id, task_index, task_name, steps, examples, avg_loss, avg_penalty, accuracies, finalized_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (SELECT 1 FROM ctdr_runs WHERE id = $1)
		ON CONFLICT (run_id, task_index) DO UPDATE SET
			task_name = EXCLUDED.task_name,
			steps = EXCLUDED.steps,
			examples = EXCLUDED.examples,
			avg_loss = EXCLUDED.avg_loss,
			avg_penalty = EXCLUDED.avg_penalty,
			accuracies = EXCLUDED.accuracies,
			finalized_at = EXCLUDED.finalized_at
	`, result.RunID, result.TaskIndex, result.TaskName, result.Steps, result.Examples,
		result.AvgLoss, result.AvgPenalty, accuraciesJSON, result.FinalizedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// ListTaskResults returns a run's task results in task order.
func (s *PostgresRunStore) ListTaskResults(ctx context.Context, runID string) ([]*domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_index, task_name, steps, examples, avg_loss, avg_penalty, accuracies, finalized_at
		FROM ctdr_task_results WHERE run_id = $1 ORDER BY task_index ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*domain.TaskResult, 0)
	for rows.Next() {
		var (
			result         domain.TaskResult
			accuraciesJSON sql.NullString
		)
		if err := rows.Scan(&result.RunID, &result.TaskIndex, &result.TaskName, &result.Steps,
			&result.Examples, &result.AvgLoss, &result.AvgPenalty, &accuraciesJSON, &result.FinalizedAt); err != nil {
			return nil, err
		}
		if accuraciesJSON.Valid && accuraciesJSON.String != "" {
			if err := json.Unmarshal([]byte(accuraciesJSON.String), &result.Accuracies); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
			}
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

// SaveAnchor records the anchor snapshot committed at a boundary.
func (s *PostgresRunStore) SaveAnchor(ctx context.Context, record *domain.AnchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	checkpointJSON, err := json.Marshal(record.Checkpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}
	importanceJSON, err := json.Marshal(record.Importance)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ctdr_anchors (run_id, task_count, checkpoint, importance, committed_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM ctdr_runs WHERE id = $1)
		ON CONFLICT (run_id, task_count) DO UPDATE SET
			checkpoint = EXCLUDED.checkpoint,
			importance = EXCLUDED.importance,
			committed_at = EXCLUDED.committed_at
	`, record.RunID, record.TaskCount, checkpointJSON, importanceJSON, record.CommittedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// LatestAnchor returns the most recent anchor for a run.
func (s *PostgresRunStore) LatestAnchor(ctx context.Context, runID string) (*domain.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	var (
		record         domain.AnchorRecord
		checkpointJSON []byte
		importanceJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, task_count, checkpoint, importance, committed_at
		FROM ctdr_anchors WHERE run_id = $1 ORDER BY task_count DESC LIMIT 1
	`, runID).Scan(&record.RunID, &record.TaskCount, &checkpointJSON, &importanceJSON, &record.CommittedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAnchorNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(checkpointJSON, &record.Checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}
	if err := json.Unmarshal(importanceJSON, &record.Importance); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}
	return &record, nil
}

// Close closes the run store.
func (s *PostgresRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Ping tests the database connection.
func (s *PostgresRunStore) Ping(ctx context.Context) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, domain.ErrStoreClosed
	}

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (s *PostgresRunStore) requireRun(ctx context.Context, runID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ctdr_runs WHERE id = $1)
	`, runID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrRunNotFound
	}
	return nil
}

func scanPostgresRun(row rowScanner) (*domain.Run, error) {
	var (
		run         domain.Run
		status      string
		config      []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Name, &status, &config, &run.Error, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if len(config) > 0 {
		run.Config = config
	}
	if completedAt.Valid {
		completed := completedAt.Time
		run.CompletedAt = &completed
	}
	return &run, nil
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
