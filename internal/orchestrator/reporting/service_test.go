package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/orchestrator/execution"
	"github.com/ehr/orchestrator/internal/orchestrator/registry"
	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
)

type okService struct{}

func (okService) Invoke(_ context.Context, _ string, input, _ map[string]interface{}) (map[string]interface{}, error) {
	return input, nil
}

type fixture struct {
	svc        *Service
	workflows  *workflow.InMemoryRepo
	executions *execution.InMemoryRepo
	registry   *registry.Registry
	queueDepth int
}

func newFixture(t *testing.T, db Pinger) *fixture {
	t.Helper()
	f := &fixture{
		workflows:  workflow.NewInMemoryRepo(),
		executions: execution.NewInMemoryRepo(),
		registry:   registry.New(),
	}
	f.svc = NewService(f.workflows, f.executions, f.registry, func() int { return f.queueDepth }, db, zerolog.Nop())
	return f
}

func (f *fixture) addService(t *testing.T, id string) {
	t.Helper()
	if err := f.registry.Register(registry.Registration{ID: id, Name: id, Type: "test", Instance: okService{}}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func (f *fixture) addExecution(t *testing.T, e *execution.Execution) {
	t.Helper()
	if e.StartTime.IsZero() {
		e.StartTime = time.Now().UTC()
	}
	if err := f.executions.Create(context.Background(), e); err != nil {
		t.Fatalf("create execution %s: %v", e.ID, err)
	}
}

func TestOperations_AggregatesWorkflowHistory(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.workflows.Create(context.Background(), &workflow.Workflow{ID: "wf-1", Name: "lab sync"}); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	f.addExecution(t, &execution.Execution{ID: "e1", WorkflowID: "wf-1", Status: execution.StatusCompleted, DurationMs: 100})
	f.addExecution(t, &execution.Execution{ID: "e2", WorkflowID: "wf-1", Status: execution.StatusCompleted, DurationMs: 300})
	f.addExecution(t, &execution.Execution{
		ID: "e3", WorkflowID: "wf-1", Status: execution.StatusFailed, DurationMs: 200,
		Steps: []execution.StepExecution{{StepID: "send", Status: execution.StepFailed}},
	})
	f.addExecution(t, &execution.Execution{ID: "e4", WorkflowID: "wf-1", Status: execution.StatusPending})

	report, err := f.svc.Operations(context.Background(), []string{"wf-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Workflows) != 1 {
		t.Fatalf("expected 1 workflow report, got %d", len(report.Workflows))
	}
	wr := report.Workflows[0]
	if wr.WorkflowName != "lab sync" {
		t.Errorf("unexpected name %q", wr.WorkflowName)
	}
	if wr.TotalExecutions != 4 {
		t.Errorf("expected 4 executions, got %d", wr.TotalExecutions)
	}
	if wr.ByStatus[execution.StatusCompleted] != 2 || wr.ByStatus[execution.StatusFailed] != 1 || wr.ByStatus[execution.StatusPending] != 1 {
		t.Errorf("unexpected status counts: %v", wr.ByStatus)
	}
	// 2 completed out of 3 terminal.
	if wr.SuccessRate < 0.66 || wr.SuccessRate > 0.67 {
		t.Errorf("unexpected success rate %v", wr.SuccessRate)
	}
	if wr.AvgDurationMs != 200 {
		t.Errorf("expected avg 200ms, got %v", wr.AvgDurationMs)
	}
	if wr.P95DurationMs != 300 {
		t.Errorf("expected p95 300ms, got %v", wr.P95DurationMs)
	}
	if wr.FailuresByStep["send"] != 1 {
		t.Errorf("unexpected failure breakdown: %v", wr.FailuresByStep)
	}
}

func TestOperations_DefaultsToAllWorkflows(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"wf-1", "wf-2"} {
		if err := f.workflows.Create(context.Background(), &workflow.Workflow{ID: id, Name: id}); err != nil {
			t.Fatalf("create workflow: %v", err)
		}
	}

	report, err := f.svc.Operations(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Workflows) != 2 {
		t.Errorf("expected 2 workflow reports, got %d", len(report.Workflows))
	}
}

func TestHealth_UpWhenAllHealthyAndQueueShallow(t *testing.T) {
	f := newFixture(t, nil)
	f.addService(t, "lab")
	f.addService(t, "pharmacy")
	f.queueDepth = 5

	snap := f.svc.Health(context.Background())
	if snap.Status != "UP" {
		t.Errorf("expected UP, got %q", snap.Status)
	}
	if snap.HealthyServices != 2 || snap.TotalServices != 2 {
		t.Errorf("unexpected service counts: %+v", snap)
	}
	if snap.QueueDepth != 5 {
		t.Errorf("unexpected queue depth %d", snap.QueueDepth)
	}
}

func TestHealth_DegradedOnDeepQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.addService(t, "lab")
	f.queueDepth = HealthyQueueDepth

	if snap := f.svc.Health(context.Background()); snap.Status != "DEGRADED" {
		t.Errorf("expected DEGRADED at depth %d, got %q", f.queueDepth, snap.Status)
	}
	f.queueDepth = HealthyQueueDepth - 1
	if snap := f.svc.Health(context.Background()); snap.Status != "UP" {
		t.Errorf("expected UP just below the threshold, got %q", snap.Status)
	}
}

type failingPinger struct{ err error }

func (p failingPinger) CheckHealth(context.Context) error { return p.err }

func TestHealth_DatabaseProbe(t *testing.T) {
	f := newFixture(t, failingPinger{err: errors.New("connection refused")})
	f.addService(t, "lab")

	snap := f.svc.Health(context.Background())
	if snap.Status != "DEGRADED" || snap.Database != "DOWN" {
		t.Errorf("expected degraded with database DOWN, got %+v", snap)
	}

	f2 := newFixture(t, failingPinger{err: nil})
	f2.addService(t, "lab")
	snap = f2.svc.Health(context.Background())
	if snap.Status != "UP" || snap.Database != "UP" {
		t.Errorf("expected UP with database UP, got %+v", snap)
	}
}
