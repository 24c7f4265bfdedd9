package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/orchestrator/registry"
	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
)

// orderedService records the order inputs arrive in.
type orderedService struct {
	mu   sync.Mutex
	seen []string
}

func (s *orderedService) Invoke(_ context.Context, _ string, input, _ map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := input["marker"].(string); ok {
		s.seen = append(s.seen, id)
	}
	return input, nil
}

func singleStepWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:     "wf-q",
		Name:   "queued",
		Status: workflow.StatusActive,
		Steps: []workflow.Step{
			{ID: "s", Name: "send", Type: workflow.StepSend, Order: 1, Service: "sink", Operation: "push"},
		},
	}
}

func TestQueue_ProcessesInFIFOOrder(t *testing.T) {
	sink := &orderedService{}
	f := newEngineFixture(t, singleStepWorkflow(), map[string]registry.Service{"sink": sink})
	q := NewQueue(f.engine, 10, zerolog.Nop())

	ids := []string{"e1", "e2", "e3"}
	for _, id := range ids {
		exec := &Execution{
			ID:         id,
			WorkflowID: "wf-q",
			Status:     StatusPending,
			StartTime:  time.Now().UTC(),
			Input:      map[string]interface{}{"marker": id},
		}
		if err := f.repo.Create(context.Background(), exec); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := q.Enqueue(id); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if q.Depth() != 3 {
		t.Errorf("expected depth 3, got %d", q.Depth())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.seen)
		sink.mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for executions, processed %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, id := range ids {
		if sink.seen[i] != id {
			t.Errorf("position %d: expected %s, got %s", i, id, sink.seen[i])
		}
	}
	if q.Depth() != 0 {
		t.Errorf("expected empty queue, got depth %d", q.Depth())
	}
}

func TestQueue_EnqueueFull(t *testing.T) {
	q := NewQueue(nil, 2, zerolog.Nop())
	if err := q.Enqueue("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue("c"); err != ErrQueueFull {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if q.Depth() != 2 {
		t.Errorf("expected depth 2, got %d", q.Depth())
	}
}

func TestQueue_BadExecutionDoesNotStallConsumer(t *testing.T) {
	sink := &orderedService{}
	f := newEngineFixture(t, singleStepWorkflow(), map[string]registry.Service{"sink": sink})
	q := NewQueue(f.engine, 10, zerolog.Nop())

	// Unknown execution id, then a real one behind it.
	if err := q.Enqueue("ghost"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	exec := &Execution{
		ID:         "real",
		WorkflowID: "wf-q",
		Status:     StatusPending,
		StartTime:  time.Now().UTC(),
		Input:      map[string]interface{}{"marker": "real"},
	}
	if err := f.repo.Create(context.Background(), exec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := q.Enqueue("real"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.seen)
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("consumer stalled behind a bad execution")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
