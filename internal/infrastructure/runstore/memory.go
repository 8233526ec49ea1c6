package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
	"github.com/jinbowang1/ctdr-go/internal/shared"
)

// MemoryRunStore implements RunStore using in-memory storage. Records
// are copied on the way in and out, so callers can never mutate stored
// state through retained references.
type MemoryRunStore struct {
	mu      sync.RWMutex
	runs    map[string]*domain.Run
	order   []string
	results map[string][]*domain.TaskResult
	anchors map[string][]*domain.AnchorRecord
	closed  bool
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:    make(map[string]*domain.Run),
		results: make(map[string][]*domain.TaskResult),
		anchors: make(map[string][]*domain.AnchorRecord),
	}
}

// CreateRun records a new run.
func (s *MemoryRunStore) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	if _, exists := s.runs[run.ID]; exists {
		return domain.ErrRunExists
	}

	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

// UpdateRunStatus moves a run to a new lifecycle state.
func (s *MemoryRunStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}

	run.Status = status
	run.Error = errMsg
	if status == domain.RunStatusCompleted || status == domain.RunStatusFailed {
		now := time.Now()
		run.CompletedAt = &now
	}
	return nil
}

// GetRun loads one run by ID.
func (s *MemoryRunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs most recent first.
func (s *MemoryRunStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	runs := make([]*domain.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		runs = append(runs, cloneRun(s.runs[s.order[i]]))
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteRun removes a run together with its task results and anchors.
func (s *MemoryRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	if _, ok := s.runs[runID]; !ok {
		return domain.ErrRunNotFound
	}

	delete(s.runs, runID)
	delete(s.results, runID)
	delete(s.anchors, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SaveTaskResult records the summary of one finished task, replacing
// any earlier record for the same task index.
func (s *MemoryRunStore) SaveTaskResult(ctx context.Context, result *domain.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	if _, ok := s.runs[result.RunID]; !ok {
		return domain.ErrRunNotFound
	}

	for i, existing := range s.results[result.RunID] {
		if existing.TaskIndex == result.TaskIndex {
			s.results[result.RunID][i] = cloneResult(result)
			return nil
		}
	}
	s.results[result.RunID] = append(s.results[result.RunID], cloneResult(result))
	return nil
}

// ListTaskResults returns a run's task results in task order.
func (s *MemoryRunStore) ListTaskResults(ctx context.Context, runID string) ([]*domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if _, ok := s.runs[runID]; !ok {
		return nil, domain.ErrRunNotFound
	}

	stored := s.results[runID]
	results := make([]*domain.TaskResult, len(stored))
	for i, r := range stored {
		results[i] = cloneResult(r)
	}
	return results, nil
}

// SaveAnchor records the anchor snapshot committed at a boundary,
// replacing any earlier record for the same boundary.
func (s *MemoryRunStore) SaveAnchor(ctx context.Context, record *domain.AnchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	if _, ok := s.runs[record.RunID]; !ok {
		return domain.ErrRunNotFound
	}

	for i, existing := range s.anchors[record.RunID] {
		if existing.TaskCount == record.TaskCount {
			s.anchors[record.RunID][i] = cloneAnchor(record)
			return nil
		}
	}
	s.anchors[record.RunID] = append(s.anchors[record.RunID], cloneAnchor(record))
	return nil
}

// LatestAnchor returns the most recent anchor for a run.
func (s *MemoryRunStore) LatestAnchor(ctx context.Context, runID string) (*domain.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if _, ok := s.runs[runID]; !ok {
		return nil, domain.ErrRunNotFound
	}

	anchors := s.anchors[runID]
	if len(anchors) == 0 {
		return nil, domain.ErrAnchorNotFound
	}

	latest := anchors[0]
	for _, a := range anchors[1:] {
		if a.TaskCount > latest.TaskCount {
			latest = a
		}
	}
	return cloneAnchor(latest), nil
}

// Close closes the store.
func (s *MemoryRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRun(run *domain.Run) *domain.Run {
	copied := *run
	if run.Config != nil {
		copied.Config = append([]byte(nil), run.Config...)
	}
	if run.CompletedAt != nil {
		completed := *run.CompletedAt
		copied.CompletedAt = &completed
	}
	return &copied
}

func cloneResult(result *domain.TaskResult) *domain.TaskResult {
	copied := *result
	copied.Accuracies = shared.CloneVector(result.Accuracies)
	return &copied
}

func cloneAnchor(record *domain.AnchorRecord) *domain.AnchorRecord {
	copied := *record
	copied.Checkpoint = shared.CloneVector(record.Checkpoint)
	copied.Importance = shared.CloneVector(record.Importance)
	return &copied
}
