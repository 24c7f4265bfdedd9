package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when an execution id is unknown to the repository.
var ErrNotFound = errors.New("execution not found")

// Repository stores execution records. Executions are owned by their
// workflow's history (ListByWorkflow, in submission order) and indexed
// independently by id for direct lookup.
type Repository interface {
	Create(ctx context.Context, e *Execution) error
	GetByID(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, e *Execution) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Execution, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	Prune(ctx context.Context, workflowID string, olderThan time.Time, keepFailed bool) (int, error)
}

// InMemoryRepo is a thread-safe in-memory Repository, the reference store.
type InMemoryRepo struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	byWorkflow map[string][]string // workflow id -> execution ids, submission order
}

// NewInMemoryRepo creates an empty in-memory repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		executions: make(map[string]*Execution),
		byWorkflow: make(map[string][]string),
	}
}

func (r *InMemoryRepo) Create(_ context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[e.ID]; exists {
		return fmt.Errorf("execution %s already exists", e.ID)
	}
	cp := cloneExecution(e)
	r.executions[e.ID] = cp
	r.byWorkflow[e.WorkflowID] = append(r.byWorkflow[e.WorkflowID], e.ID)
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneExecution(e), nil
}

func (r *InMemoryRepo) Update(_ context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	r.executions[e.ID] = cloneExecution(e)
	return nil
}

func (r *InMemoryRepo) ListByWorkflow(_ context.Context, workflowID string) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byWorkflow[workflowID]
	out := make([]*Execution, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.executions[id]; ok {
			out = append(out, cloneExecution(e))
		}
	}
	return out, nil
}

func (r *InMemoryRepo) CountByStatus(_ context.Context) (map[Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, e := range r.executions {
		counts[e.Status]++
	}
	return counts, nil
}

// Prune removes terminal executions of a workflow that started before the
// cutoff. Failed executions survive when keepFailed is set. Returns the
// number of removed records.
func (r *InMemoryRepo) Prune(_ context.Context, workflowID string, olderThan time.Time, keepFailed bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []string
	removed := 0
	for _, id := range r.byWorkflow[workflowID] {
		e, ok := r.executions[id]
		if !ok {
			continue
		}
		prune := e.Status.Terminal() && e.StartTime.Before(olderThan)
		if prune && keepFailed && (e.Status == StatusFailed || e.Status == StatusTimeout) {
			prune = false
		}
		if prune {
			delete(r.executions, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.byWorkflow[workflowID] = kept
	return removed, nil
}

// cloneExecution deep-copies the slices so callers never share mutable
// state with the store. Payload maps are shared; the engine treats them
// as immutable once recorded.
func cloneExecution(e *Execution) *Execution {
	cp := *e
	cp.Steps = make([]StepExecution, len(e.Steps))
	copy(cp.Steps, e.Steps)
	cp.Errors = make([]ExecutionError, len(e.Errors))
	copy(cp.Errors, e.Errors)
	return &cp
}
