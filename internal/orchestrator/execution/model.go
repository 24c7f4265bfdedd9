// Package execution runs workflow definitions: it owns the execution
// record model, the engine state machine, and the FIFO execution queue.
package execution

import "time"

// Status is the lifecycle state of one execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether the status is final. Terminal executions are
// immutable except for being read.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// StepStatus is the outcome of one step attempt.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepTimeout   StepStatus = "timeout"
)

// StepExecution records one attempt of a step. A logical step can have
// more than one record within an execution when a fallback fires; records
// appear in attempt order, which is significant for audit.
type StepExecution struct {
	StepID     string                 `json:"step_id"`
	Status     StepStatus             `json:"status"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    *time.Time             `json:"end_time,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RetryCount int                    `json:"retry_count"`
	Logs       []string               `json:"logs,omitempty"`
}

// ErrorSeverity grades an execution-level error.
type ErrorSeverity string

const (
	SeverityLow    ErrorSeverity = "low"
	SeverityMedium ErrorSeverity = "medium"
	SeverityHigh   ErrorSeverity = "high"
)

// ExecutionError is an execution-level error record.
type ExecutionError struct {
	Timestamp time.Time     `json:"timestamp"`
	StepID    string        `json:"step_id,omitempty"`
	Message   string        `json:"message"`
	Severity  ErrorSeverity `json:"severity"`
}

// Metrics aggregates step outcomes for one execution.
type Metrics struct {
	TotalSteps        int     `json:"total_steps"`
	CompletedSteps    int     `json:"completed_steps"`
	FailedSteps       int     `json:"failed_steps"`
	SkippedSteps      int     `json:"skipped_steps"`
	AvgStepDurationMs float64 `json:"avg_step_duration_ms"`
}

// Context threads identity and environment through one execution.
type Context struct {
	CorrelationID string                 `json:"correlation_id"`
	TriggeredBy   string                 `json:"triggered_by,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Environment   string                 `json:"environment,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Execution is one run of a workflow against a specific input. It is
// created PENDING at submission, moves to RUNNING when dequeued, and
// reaches exactly one terminal state.
type Execution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      Status                 `json:"status"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     *time.Time             `json:"end_time,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
	TriggeredBy string                 `json:"triggered_by,omitempty"`
	TriggerType string                 `json:"trigger_type,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Steps       []StepExecution        `json:"steps"`
	Errors      []ExecutionError       `json:"errors,omitempty"`
	Metrics     Metrics                `json:"metrics"`
	Context     Context                `json:"context"`
}
