package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a workflow id is unknown to the repository.
var ErrNotFound = errors.New("workflow not found")

// Repository abstracts workflow definition storage so the engine and
// handlers never care whether definitions live in memory or Postgres.
type Repository interface {
	Create(ctx context.Context, w *Workflow) error
	GetByID(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context, limit, offset int) ([]*Workflow, int, error)
	Update(ctx context.Context, w *Workflow) error
}

// InMemoryRepo is a thread-safe in-memory Repository, the reference store.
type InMemoryRepo struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	order     []string
}

// NewInMemoryRepo creates an empty in-memory repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{workflows: make(map[string]*Workflow)}
}

func (r *InMemoryRepo) Create(_ context.Context, w *Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[w.ID]; exists {
		return fmt.Errorf("workflow %s already exists", w.ID)
	}
	cp := *w
	r.workflows[w.ID] = &cp
	r.order = append(r.order, w.ID)
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (r *InMemoryRepo) List(_ context.Context, limit, offset int) ([]*Workflow, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.order)
	if offset >= total {
		return []*Workflow{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	out := make([]*Workflow, 0, end-offset)
	for _, id := range r.order[offset:end] {
		if w, ok := r.workflows[id]; ok {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, total, nil
}

func (r *InMemoryRepo) Update(_ context.Context, w *Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[w.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, w.ID)
	}
	cp := *w
	r.workflows[w.ID] = &cp
	return nil
}
