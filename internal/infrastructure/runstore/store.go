// Package runstore provides persistence for continual training runs:
// an in-memory store for tests, a SQLite store for local work, and a
// PostgreSQL store for shared deployments.
package runstore

import (
	"context"
	"fmt"

	domain "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// RunStore defines the interface for run persistence.
type RunStore interface {
	// CreateRun records a new run.
	CreateRun(ctx context.Context, run *domain.Run) error

	// UpdateRunStatus moves a run to a new lifecycle state. Terminal
	// states stamp the completion time; errMsg is stored for failures.
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error

	// GetRun loads one run by ID.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// ListRuns returns runs ordered most recent first. A non-positive
	// limit returns every run.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// DeleteRun removes a run together with its task results and
	// anchors.
	DeleteRun(ctx context.Context, runID string) error

	// SaveTaskResult records the summary of one finished task. Saving
	// the same task index again replaces the earlier record, so a
	// resumed run can redo a task.
	SaveTaskResult(ctx context.Context, result *domain.TaskResult) error

	// ListTaskResults returns a run's task results in task order.
	ListTaskResults(ctx context.Context, runID string) ([]*domain.TaskResult, error)

	// SaveAnchor records the anchor snapshot committed at a boundary.
	// Saving the same boundary again replaces the earlier record.
	SaveAnchor(ctx context.Context, record *domain.AnchorRecord) error

	// LatestAnchor returns the most recent anchor for a run, or
	// ErrAnchorNotFound when no boundary has been committed.
	LatestAnchor(ctx context.Context, runID string) (*domain.AnchorRecord, error)

	// Close releases the store's resources.
	Close() error
}

// Config selects and configures a run store backend.
type Config struct {
	// Backend is one of memory, sqlite, or postgres.
	Backend string `json:"backend" yaml:"backend"`

	// DatabasePath is the SQLite database file path.
	DatabasePath string `json:"databasePath,omitempty" yaml:"databasePath,omitempty"`

	// Postgres configures the postgres backend.
	Postgres PostgresConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// DefaultConfig returns the local SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendSQLite,
		DatabasePath: ".data/runs.db",
	}
}

// New builds the store selected by the configuration.
func New(ctx context.Context, config Config) (RunStore, error) {
	switch config.Backend {
	case BackendMemory:
		return NewMemoryRunStore(), nil
	case BackendSQLite, "":
		return NewSQLiteRunStore(config.DatabasePath)
	case BackendPostgres:
		return NewPostgresRunStore(ctx, config.Postgres)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrStoreInitFailed, config.Backend)
	}
}
