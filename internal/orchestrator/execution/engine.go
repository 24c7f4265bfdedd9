package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/orchestrator/registry"
	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
	"github.com/ehr/orchestrator/internal/platform/events"
	"github.com/ehr/orchestrator/internal/platform/transform"
)

// stepHandler runs one step against the current payload and returns the
// next payload.
type stepHandler func(ctx context.Context, step *workflow.Step, data map[string]interface{}) (map[string]interface{}, error)

// Engine runs one execution at a time through the workflow state machine:
// dependency gating, condition evaluation, step dispatch, error policy,
// and metrics finalization.
type Engine struct {
	workflows workflow.Repository
	services  *registry.Registry
	repo      Repository
	bus       *events.Bus
	logger    zerolog.Logger

	handlers map[workflow.StepType]stepHandler
}

// NewEngine wires an execution engine to its collaborators.
func NewEngine(workflows workflow.Repository, services *registry.Registry, repo Repository, bus *events.Bus, logger zerolog.Logger) *Engine {
	e := &Engine{
		workflows: workflows,
		services:  services,
		repo:      repo,
		bus:       bus,
		logger:    logger.With().Str("component", "execution-engine").Logger(),
	}
	e.handlers = map[workflow.StepType]stepHandler{
		workflow.StepTransform: e.runTransform,
		workflow.StepSend:      e.runInvoke,
		workflow.StepReceive:   e.runInvoke,
		workflow.StepStore:     e.runInvoke,
		workflow.StepNotify:    e.runInvoke,
		workflow.StepValidate:  e.runInvoke,
		workflow.StepCustom:    e.runInvoke,
		workflow.StepDecision:  e.runDecision,
		workflow.StepDelay:     e.runDelay,
	}
	return e
}

// Process runs one pending execution to a terminal state. Executions that
// are no longer pending (cancelled while queued) are left untouched. The
// error return covers infrastructure failures only; workflow-level step
// failures are recorded on the execution itself.
func (e *Engine) Process(ctx context.Context, executionID string) error {
	exec, err := e.repo.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != StatusPending {
		e.logger.Debug().Str("execution_id", executionID).Str("status", string(exec.Status)).
			Msg("skipping non-pending execution")
		return nil
	}

	exec.Status = StatusRunning
	exec.StartTime = time.Now().UTC()
	if err := e.repo.Update(ctx, exec); err != nil {
		return err
	}
	e.publish(events.ExecutionStarted, exec)

	w, err := e.workflows.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		e.finalize(ctx, exec, StatusFailed, nil,
			fmt.Sprintf("workflow %s: %v", exec.WorkflowID, err))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("execution_id", exec.ID).Interface("panic", r).
				Msg("execution panicked")
			e.finalize(ctx, exec, StatusFailed, nil, fmt.Sprintf("panic: %v", r))
		}
	}()

	e.run(ctx, exec, w)
	return nil
}

// run walks the steps sequentially in definition order.
func (e *Engine) run(ctx context.Context, exec *Execution, w *workflow.Workflow) {
	data := copyDoc(exec.Input)
	completed := make(map[string]bool)
	exec.Metrics.TotalSteps = len(w.Steps)

	for i := range w.Steps {
		step := &w.Steps[i]

		if !dependenciesMet(step, completed) {
			exec.Metrics.SkippedSteps++
			e.logger.Debug().Str("execution_id", exec.ID).Str("step", step.ID).
				Msg("skipping step with unmet dependencies")
			continue
		}
		if !conditionsMet(step, data) {
			exec.Metrics.SkippedSteps++
			e.logger.Debug().Str("execution_id", exec.ID).Str("step", step.ID).
				Msg("skipping step with unsatisfied conditions")
			continue
		}

		out, se := e.runStep(ctx, step, data)
		exec.Steps = append(exec.Steps, se)

		if se.Status == StepCompleted {
			data = out
			completed[step.ID] = true
			exec.Metrics.CompletedSteps++
			continue
		}

		exec.Metrics.FailedSteps++
		policy := step.ErrorHandling
		if policy == "" {
			policy = workflow.ErrorStop
		}
		switch policy {
		case workflow.ErrorStop:
			exec.Errors = append(exec.Errors, ExecutionError{
				Timestamp: time.Now().UTC(),
				StepID:    step.ID,
				Message:   se.Error,
				Severity:  SeverityHigh,
			})
			e.finalize(ctx, exec, StatusFailed, data, "")
			return
		case workflow.ErrorFallback:
			exec.Errors = append(exec.Errors, ExecutionError{
				Timestamp: time.Now().UTC(),
				StepID:    step.ID,
				Message:   se.Error,
				Severity:  SeverityMedium,
			})
			fb, ok := w.StepByID(step.FallbackStep)
			if !ok {
				break
			}
			fbOut, fbSE := e.runStep(ctx, fb, data)
			exec.Steps = append(exec.Steps, fbSE)
			if fbSE.Status == StepCompleted {
				data = fbOut
				completed[step.ID] = true
				completed[fb.ID] = true
				exec.Metrics.CompletedSteps++
			} else {
				exec.Metrics.FailedSteps++
				exec.Errors = append(exec.Errors, ExecutionError{
					Timestamp: time.Now().UTC(),
					StepID:    fb.ID,
					Message:   fbSE.Error,
					Severity:  SeverityMedium,
				})
			}
		default:
			// continue, retry, skip: record and move on.
			exec.Errors = append(exec.Errors, ExecutionError{
				Timestamp: time.Now().UTC(),
				StepID:    step.ID,
				Message:   se.Error,
				Severity:  SeverityLow,
			})
		}
	}

	e.finalize(ctx, exec, StatusCompleted, data, "")
}

// runStep executes one step attempt and records it. A per-step timeout, if
// declared, bounds the attempt through the context deadline.
func (e *Engine) runStep(ctx context.Context, step *workflow.Step, data map[string]interface{}) (map[string]interface{}, StepExecution) {
	se := StepExecution{
		StepID:    step.ID,
		Status:    StepRunning,
		StartTime: time.Now().UTC(),
		Input:     data,
	}

	stepCtx := ctx
	if step.TimeoutMs > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	handler, ok := e.handlers[step.Type]
	if !ok {
		handler = e.runInvoke
	}

	out, err := func() (out map[string]interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("step panicked: %v", r)
			}
		}()
		return handler(stepCtx, step, data)
	}()

	end := time.Now().UTC()
	se.EndTime = &end
	se.DurationMs = end.Sub(se.StartTime).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || stepCtx.Err() == context.DeadlineExceeded {
			se.Status = StepTimeout
		} else {
			se.Status = StepFailed
		}
		se.Error = err.Error()
		e.logger.Warn().Str("step", step.ID).Str("service", step.Service).
			Err(err).Msg("step failed")
		return nil, se
	}

	se.Status = StepCompleted
	se.Output = out
	return out, se
}

// runInvoke dispatches the step to its registered service operation.
func (e *Engine) runInvoke(ctx context.Context, step *workflow.Step, data map[string]interface{}) (map[string]interface{}, error) {
	svc, err := e.services.Resolve(step.Service)
	if err != nil {
		return nil, err
	}
	out, err := svc.Invoke(ctx, step.Operation, data, step.Config)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", step.Service, step.Operation, err)
	}
	if out == nil {
		out = data
	}
	return out, nil
}

// runTransform applies the mapping rules from the step configuration. With
// no rules the payload passes through unchanged.
func (e *Engine) runTransform(_ context.Context, step *workflow.Step, data map[string]interface{}) (map[string]interface{}, error) {
	mappings := transform.ParseMappings(step.Config["mappings"])
	return transform.Apply(data, mappings), nil
}

// runDecision evaluates the step conditions against the payload and records
// the verdict under the configured result field.
func (e *Engine) runDecision(_ context.Context, step *workflow.Step, data map[string]interface{}) (map[string]interface{}, error) {
	field, _ := step.Config["result_field"].(string)
	if field == "" {
		field = "decision"
	}
	out := copyDoc(data)
	out[field] = conditionsMet(step, data)
	return out, nil
}

// runDelay sleeps for config delayMs, honoring cancellation.
func (e *Engine) runDelay(ctx context.Context, step *workflow.Step, data map[string]interface{}) (map[string]interface{}, error) {
	ms, _ := toFloat(step.Config["delayMs"])
	if ms <= 0 {
		return data, nil
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finalize moves the execution to a terminal state, computes metrics, and
// publishes the terminal event.
func (e *Engine) finalize(ctx context.Context, exec *Execution, status Status, output map[string]interface{}, infraErr string) {
	if exec.Status.Terminal() {
		return
	}
	end := time.Now().UTC()
	exec.Status = status
	exec.EndTime = &end
	exec.DurationMs = end.Sub(exec.StartTime).Milliseconds()
	exec.Output = output
	if infraErr != "" {
		exec.Errors = append(exec.Errors, ExecutionError{
			Timestamp: end,
			Message:   infraErr,
			Severity:  SeverityHigh,
		})
	}

	var totalMs int64
	var n int
	for _, se := range exec.Steps {
		if se.Status == StepCompleted {
			totalMs += se.DurationMs
			n++
		}
	}
	if n > 0 {
		exec.Metrics.AvgStepDurationMs = float64(totalMs) / float64(n)
	}

	if err := e.repo.Update(ctx, exec); err != nil {
		e.logger.Error().Str("execution_id", exec.ID).Err(err).
			Msg("failed to persist terminal execution")
	}

	switch status {
	case StatusCompleted:
		e.publish(events.ExecutionCompleted, exec)
	case StatusFailed, StatusTimeout:
		e.publish(events.ExecutionFailed, exec)
	}
	e.logger.Info().Str("execution_id", exec.ID).Str("workflow_id", exec.WorkflowID).
		Str("status", string(status)).Int64("duration_ms", exec.DurationMs).
		Msg("execution finished")
}

func (e *Engine) publish(t events.Type, exec *Execution) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(t, map[string]interface{}{
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"status":       string(exec.Status),
	}))
}

// ===== Gating =====

func dependenciesMet(step *workflow.Step, completed map[string]bool) bool {
	for _, dep := range step.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func conditionsMet(step *workflow.Step, data map[string]interface{}) bool {
	for _, c := range step.Conditions {
		if !evalCondition(c, data) {
			return false
		}
	}
	return true
}

func evalCondition(c workflow.Condition, data map[string]interface{}) bool {
	actual, found := transform.Lookup(data, c.Field)
	switch c.Operator {
	case workflow.OpExists:
		return found
	case workflow.OpEquals:
		return found && looseEqual(actual, c.Value)
	case workflow.OpNotEquals:
		return !found || !looseEqual(actual, c.Value)
	case workflow.OpContains:
		return found && contains(actual, c.Value)
	case workflow.OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		return found && aok && bok && a > b
	case workflow.OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		return found && aok && bok && a < b
	}
	return false
}

// looseEqual compares with numeric coercion, since JSON decoding yields
// float64 for every number.
func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func contains(actual, value interface{}) bool {
	switch v := actual.(type) {
	case string:
		s, ok := value.(string)
		return ok && strings.Contains(v, s)
	case []interface{}:
		for _, item := range v {
			if looseEqual(item, value) {
				return true
			}
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func copyDoc(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
