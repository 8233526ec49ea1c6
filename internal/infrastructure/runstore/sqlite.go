package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	domain "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
)

// SQLiteRunStore implements RunStore using SQLite.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteRunStore opens (and if needed creates) a SQLite-backed run
// store at dbPath.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if dbPath == "" {
		dbPath = ".data/runs.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %v", domain.ErrStoreInitFailed, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", domain.ErrStoreInitFailed, err)
	}

	store := &SQLiteRunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates the database schema.
func (s *SQLiteRunStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			config BLOB,
			error TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS task_results (
			run_id TEXT NOT NULL,
			task_index INTEGER NOT NULL,
			task_name TEXT NOT NULL,
			steps INTEGER NOT NULL,
			examples INTEGER NOT NULL,
			avg_loss REAL NOT NULL,
			avg_penalty REAL NOT NULL,
			accuracies TEXT,
			finalized_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, task_index)
		);

		CREATE TABLE IF NOT EXISTS anchors (
			run_id TEXT NOT NULL,
			task_count INTEGER NOT NULL,
			checkpoint BLOB NOT NULL,
			importance BLOB NOT NULL,
			committed_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, task_count)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results(run_id, task_index);
		CREATE INDEX IF NOT EXISTS idx_anchors_run ON anchors(run_id, task_count);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", domain.ErrStoreInitFailed, err)
	}

	return nil
}

// CreateRun records a new run.
func (s *SQLiteRunStore) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	exists, err := s.runExists(ctx, run.ID)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrRunExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, status, config, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`, run.ID, run.Name, string(run.Status), []byte(run.Config), run.Error, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	return nil
}

// UpdateRunStatus moves a run to a new lifecycle state.
func (s *SQLiteRunStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	var completedAt interface{}
	if status == domain.RunStatusCompleted || status == domain.RunStatusFailed {
		completedAt = time.Now().UnixMilli()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?
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
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, config, error, started_at, completed_at
		FROM runs WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns runs most recent first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	query := `
		SELECT id, name, status, config, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id DESC
	`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run together with its task results and anchors.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, runID string) error {
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

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM anchors WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	return nil
}

// SaveTaskResult records the summary of one finished task.
func (s *SQLiteRunStore) SaveTaskResult(ctx context.Context, result *domain.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	exists, err := s.runExists(ctx, result.RunID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrRunNotFound
	}

	var accuraciesJSON []byte
	if result.Accuracies != nil {
		accuraciesJSON, err = json.Marshal(result.Accuracies)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_results
			(run_id, task_index, task_name, steps, examples, avg_loss, avg_penalty, accuracies, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.RunID, result.TaskIndex, result.TaskName, result.Steps, result.Examples,
		result.AvgLoss, result.AvgPenalty, accuraciesJSON, result.FinalizedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	return nil
}

// ListTaskResults returns a run's task results in task order.
func (s *SQLiteRunStore) ListTaskResults(ctx context.Context, runID string) ([]*domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrRunNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_index, task_name, steps, examples, avg_loss, avg_penalty, accuracies, finalized_at
		FROM task_results WHERE run_id = ? ORDER BY task_index ASC
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
			finalizedMs    int64
		)
		if err := rows.Scan(&result.RunID, &result.TaskIndex, &result.TaskName, &result.Steps,
			&result.Examples, &result.AvgLoss, &result.AvgPenalty, &accuraciesJSON, &finalizedMs); err != nil {
			return nil, err
		}
		result.FinalizedAt = time.UnixMilli(finalizedMs)
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
func (s *SQLiteRunStore) SaveAnchor(ctx context.Context, record *domain.AnchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	exists, err := s.runExists(ctx, record.RunID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrRunNotFound
	}

	checkpointJSON, err := json.Marshal(record.Checkpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}
	importanceJSON, err := json.Marshal(record.Importance)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO anchors (run_id, task_count, checkpoint, importance, committed_at)
		VALUES (?, ?, ?, ?, ?)
	`, record.RunID, record.TaskCount, checkpointJSON, importanceJSON, record.CommittedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransactionFailed, err)
	}
	return nil
}

// LatestAnchor returns the most recent anchor for a run.
func (s *SQLiteRunStore) LatestAnchor(ctx context.Context, runID string) (*domain.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrRunNotFound
	}

	var (
		record         domain.AnchorRecord
		checkpointJSON []byte
		importanceJSON []byte
		committedMs    int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT run_id, task_count, checkpoint, importance, committed_at
		FROM anchors WHERE run_id = ? ORDER BY task_count DESC LIMIT 1
	`, runID).Scan(&record.RunID, &record.TaskCount, &checkpointJSON, &importanceJSON, &committedMs)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAnchorNotFound
	}
	if err != nil {
		return nil, err
	}

	record.CommittedAt = time.UnixMilli(committedMs)
	if err := json.Unmarshal(checkpointJSON, &record.Checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}
	if err := json.Unmarshal(importanceJSON, &record.Importance); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerializationFailed, err)
	}
	return &record, nil
}

// Close closes the run store.
func (s *SQLiteRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Vacuum reclaims unused space in the database.
func (s *SQLiteRunStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *SQLiteRunStore) runExists(ctx context.Context, runID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run         domain.Run
		status      string
		config      []byte
		startedMs   int64
		completedMs sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Name, &status, &config, &run.Error, &startedMs, &completedMs); err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.StartedAt = time.UnixMilli(startedMs)
	if len(config) > 0 {
		run.Config = config
	}
	if completedMs.Valid {
		completed := time.UnixMilli(completedMs.Int64)
		run.CompletedAt = &completed
	}
	return &run, nil
}
