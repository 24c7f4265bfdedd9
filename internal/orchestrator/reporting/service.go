// Package reporting aggregates execution history into operational reports
// and assembles the orchestrator-wide health snapshot.
package reporting

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/orchestrator/execution"
	"github.com/ehr/orchestrator/internal/orchestrator/registry"
	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
)

// HealthyQueueDepth is the queue backlog above which the orchestrator
// reports itself degraded.
const HealthyQueueDepth = 100

// Pinger probes a backing store. Wired only when a durable store is
// configured.
type Pinger interface {
	CheckHealth(ctx context.Context) error
}

// Service computes reports from the repositories. It holds no state of
// its own; every report is a fresh read.
type Service struct {
	workflows  workflow.Repository
	executions execution.Repository
	registry   *registry.Registry
	queueDepth func() int
	db         Pinger
	logger     zerolog.Logger
}

// NewService wires the reporting service. db may be nil.
func NewService(workflows workflow.Repository, executions execution.Repository, reg *registry.Registry, queueDepth func() int, db Pinger, logger zerolog.Logger) *Service {
	return &Service{
		workflows:  workflows,
		executions: executions,
		registry:   reg,
		queueDepth: queueDepth,
		db:         db,
		logger:     logger.With().Str("component", "reporting").Logger(),
	}
}

// WorkflowReport aggregates one workflow's execution history.
type WorkflowReport struct {
	WorkflowID       string                   `json:"workflow_id"`
	WorkflowName     string                   `json:"workflow_name"`
	TotalExecutions  int                      `json:"total_executions"`
	ByStatus         map[execution.Status]int `json:"by_status"`
	SuccessRate      float64                  `json:"success_rate"`
	AvgDurationMs    float64                  `json:"avg_duration_ms"`
	P95DurationMs    int64                    `json:"p95_duration_ms"`
	FailuresByStep   map[string]int           `json:"failures_by_step,omitempty"`
	LastExecutionAt  *time.Time               `json:"last_execution_at,omitempty"`
}

// OperationsReport is the cross-workflow operational report.
type OperationsReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Workflows   []WorkflowReport `json:"workflows"`
}

// Operations builds the operational report for the given workflow ids.
// With no ids, every known workflow is included.
func (s *Service) Operations(ctx context.Context, workflowIDs []string) (*OperationsReport, error) {
	if len(workflowIDs) == 0 {
		const page = 100
		for offset := 0; ; offset += page {
			items, total, err := s.workflows.List(ctx, page, offset)
			if err != nil {
				return nil, err
			}
			for _, w := range items {
				workflowIDs = append(workflowIDs, w.ID)
			}
			if offset+page >= total || len(items) == 0 {
				break
			}
		}
	}

	report := &OperationsReport{
		GeneratedAt: time.Now().UTC(),
		Workflows:   make([]WorkflowReport, 0, len(workflowIDs)),
	}
	for _, id := range workflowIDs {
		wr, err := s.workflowReport(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Workflows = append(report.Workflows, wr)
	}
	return report, nil
}

func (s *Service) workflowReport(ctx context.Context, workflowID string) (WorkflowReport, error) {
	wr := WorkflowReport{
		WorkflowID:     workflowID,
		ByStatus:       make(map[execution.Status]int),
		FailuresByStep: make(map[string]int),
	}
	if w, err := s.workflows.GetByID(ctx, workflowID); err == nil {
		wr.WorkflowName = w.Name
	}

	history, err := s.executions.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return wr, err
	}
	wr.TotalExecutions = len(history)

	var durations []int64
	var totalMs int64
	terminal := 0
	for _, e := range history {
		wr.ByStatus[e.Status]++
		if e.Status.Terminal() {
			terminal++
			durations = append(durations, e.DurationMs)
			totalMs += e.DurationMs
		}
		if t := e.StartTime; wr.LastExecutionAt == nil || t.After(*wr.LastExecutionAt) {
			started := t
			wr.LastExecutionAt = &started
		}
		for _, se := range e.Steps {
			if se.Status == execution.StepFailed || se.Status == execution.StepTimeout {
				wr.FailuresByStep[se.StepID]++
			}
		}
	}
	if terminal > 0 {
		wr.SuccessRate = float64(wr.ByStatus[execution.StatusCompleted]) / float64(terminal)
		wr.AvgDurationMs = float64(totalMs) / float64(terminal)
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		idx := (len(durations)*95 + 99) / 100
		if idx > 0 {
			idx--
		}
		wr.P95DurationMs = durations[idx]
	}
	if len(wr.FailuresByStep) == 0 {
		wr.FailuresByStep = nil
	}
	return wr, nil
}

// ServiceHealth is one service's entry in the health snapshot.
type ServiceHealth struct {
	ServiceID string               `json:"service_id"`
	Name      string               `json:"name"`
	Status    registry.HealthState `json:"status"`
}

// HealthSnapshot is the orchestrator-wide health view.
type HealthSnapshot struct {
	Status          string                   `json:"status"`
	Timestamp       time.Time                `json:"timestamp"`
	Services        []ServiceHealth          `json:"services"`
	HealthyServices int                      `json:"healthy_services"`
	TotalServices   int                      `json:"total_services"`
	QueueDepth      int                      `json:"queue_depth"`
	Executions      map[execution.Status]int `json:"executions"`
	Database        string                   `json:"database,omitempty"`
}

// Health assembles the orchestrator health snapshot. The orchestrator is
// UP when every registered service is healthy and the queue backlog is
// below HealthyQueueDepth; otherwise it is DEGRADED.
func (s *Service) Health(ctx context.Context) *HealthSnapshot {
	snap := &HealthSnapshot{
		Timestamp: time.Now().UTC(),
	}

	health := s.registry.HealthSnapshot()
	for _, e := range s.registry.List() {
		sh := ServiceHealth{ServiceID: e.ID, Name: e.Name}
		if rec, ok := health[e.ID]; ok {
			sh.Status = rec.Status
		}
		if sh.Status == registry.HealthHealthy {
			snap.HealthyServices++
		}
		snap.Services = append(snap.Services, sh)
	}
	snap.TotalServices = len(snap.Services)
	snap.QueueDepth = s.queueDepth()

	counts, err := s.executions.CountByStatus(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count executions")
		counts = map[execution.Status]int{}
	}
	snap.Executions = counts

	up := snap.HealthyServices == snap.TotalServices && snap.QueueDepth < HealthyQueueDepth

	if s.db != nil {
		if err := s.db.CheckHealth(ctx); err != nil {
			snap.Database = "DOWN"
			up = false
		} else {
			snap.Database = "UP"
		}
	}

	if up {
		snap.Status = "UP"
	} else {
		snap.Status = "DEGRADED"
	}
	return snap
}
