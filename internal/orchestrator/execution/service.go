package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
)

// RetentionPolicy is the fallback history retention applied when a
// workflow declares none of its own.
type RetentionPolicy struct {
	RetentionDays        int
	KeepFailedExecutions bool
}

// Service submits, inspects, and cancels executions, and sweeps expired
// history. Actual processing happens on the queue consumer.
type Service struct {
	workflows workflow.Repository
	repo      Repository
	queue     *Queue
	retention RetentionPolicy
	logger    zerolog.Logger
}

// NewService wires the execution service.
func NewService(workflows workflow.Repository, repo Repository, queue *Queue, retention RetentionPolicy, logger zerolog.Logger) *Service {
	return &Service{
		workflows: workflows,
		repo:      repo,
		queue:     queue,
		retention: retention,
		logger:    logger.With().Str("component", "execution-service").Logger(),
	}
}

// ExecuteRequest is the submission payload for one workflow run.
type ExecuteRequest struct {
	Input       map[string]interface{} `json:"input"`
	TriggeredBy string                 `json:"triggered_by,omitempty"`
	TriggerType string                 `json:"trigger_type,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Environment string                 `json:"environment,omitempty"`
}

// Execute creates a pending execution for an active workflow and enqueues
// it. The returned record reflects the pending state; callers poll or
// subscribe for progress.
func (s *Service) Execute(ctx context.Context, workflowID string, req ExecuteRequest) (*Execution, error) {
	w, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status != workflow.StatusActive {
		return nil, fmt.Errorf("workflow %s is %s, only active workflows can execute", workflowID, w.Status)
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = "manual"
	}
	exec := &Execution{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		Status:      StatusPending,
		StartTime:   time.Now().UTC(),
		TriggeredBy: req.TriggeredBy,
		TriggerType: triggerType,
		Input:       req.Input,
		Steps:       []StepExecution{},
		Context: Context{
			CorrelationID: uuid.NewString(),
			TriggeredBy:   req.TriggeredBy,
			SessionID:     req.SessionID,
			Environment:   req.Environment,
		},
	}

	if err := s.repo.Create(ctx, exec); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(exec.ID); err != nil {
		exec.Status = StatusCancelled
		end := time.Now().UTC()
		exec.EndTime = &end
		exec.Errors = append(exec.Errors, ExecutionError{
			Timestamp: end,
			Message:   err.Error(),
			Severity:  SeverityHigh,
		})
		if uerr := s.repo.Update(ctx, exec); uerr != nil {
			s.logger.Error().Str("execution_id", exec.ID).Err(uerr).
				Msg("failed to record rejected execution")
		}
		return nil, err
	}

	s.logger.Info().Str("execution_id", exec.ID).Str("workflow_id", workflowID).
		Int("queue_depth", s.queue.Depth()).Msg("execution queued")
	return exec, nil
}

// Get returns one execution by id.
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByWorkflow returns a workflow's execution history in submission order.
func (s *Service) ListByWorkflow(ctx context.Context, workflowID string) ([]*Execution, error) {
	return s.repo.ListByWorkflow(ctx, workflowID)
}

// Cancel marks a pending execution cancelled. The queue consumer skips
// cancelled executions when it dequeues them. Running and terminal
// executions cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*Execution, error) {
	exec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status != StatusPending {
		return nil, fmt.Errorf("execution %s is %s, only pending executions can be cancelled", id, exec.Status)
	}
	exec.Status = StatusCancelled
	end := time.Now().UTC()
	exec.EndTime = &end
	if err := s.repo.Update(ctx, exec); err != nil {
		return nil, err
	}
	s.logger.Info().Str("execution_id", id).Msg("execution cancelled")
	return exec, nil
}

// CountByStatus returns execution counts keyed by status.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

// QueueDepth reports the number of queued executions.
func (s *Service) QueueDepth() int { return s.queue.Depth() }

// SweepRetention prunes expired terminal executions across all workflows,
// honoring per-workflow retention where declared. Returns the number of
// removed records.
func (s *Service) SweepRetention(ctx context.Context) (int, error) {
	const page = 100
	removed := 0
	for offset := 0; ; offset += page {
		items, total, err := s.workflows.List(ctx, page, offset)
		if err != nil {
			return removed, err
		}
		for _, w := range items {
			days := s.retention.RetentionDays
			keepFailed := s.retention.KeepFailedExecutions
			if r := w.Configuration.Retention; r.RetentionDays > 0 {
				days = r.RetentionDays
				keepFailed = r.KeepFailedExecutions
			}
			if days <= 0 {
				continue
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			n, err := s.repo.Prune(ctx, w.ID, cutoff, keepFailed)
			if err != nil {
				s.logger.Error().Str("workflow_id", w.ID).Err(err).Msg("retention prune failed")
				continue
			}
			removed += n
		}
		if offset+page >= total || len(items) == 0 {
			break
		}
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("retention sweep pruned executions")
	}
	return removed, nil
}

// RunRetention sweeps on the given interval until the context is cancelled.
func (s *Service) RunRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepRetention(ctx); err != nil {
				s.logger.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
