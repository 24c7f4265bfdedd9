// Package workflow holds declarative integration workflow definitions:
// ordered, dependency-gated steps bound to registered service operations,
// plus per-workflow execution policy.
package workflow

import "time"

// Type classifies how a workflow is meant to be triggered.
type Type string

const (
	TypeDataSync    Type = "data-sync"
	TypeRealTime    Type = "real-time"
	TypeBatch       Type = "batch"
	TypeEventDriven Type = "event-driven"
	TypeScheduled   Type = "scheduled"
	TypeManual      Type = "manual"
	TypeEmergency   Type = "emergency"
)

// Status is the lifecycle state of a workflow definition.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusPaused      Status = "paused"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusMaintenance Status = "maintenance"
)

// Priority orders workflows for operator attention; the queue itself is FIFO.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// StepType is the closed set of step kinds the engine dispatches on.
type StepType string

const (
	StepTransform StepType = "transform"
	StepValidate  StepType = "validate"
	StepSend      StepType = "send"
	StepReceive   StepType = "receive"
	StepStore     StepType = "store"
	StepNotify    StepType = "notify"
	StepDecision  StepType = "decision"
	StepLoop      StepType = "loop"
	StepDelay     StepType = "delay"
	StepCustom    StepType = "custom"
)

// ErrorPolicy controls what the engine does when a step fails.
type ErrorPolicy string

const (
	ErrorStop     ErrorPolicy = "stop"
	ErrorContinue ErrorPolicy = "continue"
	ErrorRetry    ErrorPolicy = "retry"
	ErrorSkip     ErrorPolicy = "skip"
	ErrorFallback ErrorPolicy = "fallback"
)

// ConditionOperator is the comparison applied by a step condition.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpExists      ConditionOperator = "exists"
)

// BackoffStrategy names the retry backoff curve in the workflow policy.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// Condition gates a step on the current running payload. Field is a
// dotted path into the payload document.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value,omitempty"`
}

// RetryConfig is per-step retry bookkeeping. The engine records retry
// counts on step executions but does not loop-retry a failed step before
// moving on; see the execution engine for the policy semantics.
type RetryConfig struct {
	Enabled    bool  `json:"enabled"`
	MaxRetries int   `json:"max_retries"`
	DelayMs    int64 `json:"delay_ms"`
}

// Step is one unit of work, bound to a registered service operation.
type Step struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Type          StepType               `json:"type"`
	Order         int                    `json:"order"`
	Service       string                 `json:"service"`
	Operation     string                 `json:"operation"`
	Config        map[string]interface{} `json:"config,omitempty"`
	Dependencies  []string               `json:"dependencies,omitempty"`
	Retry         *RetryConfig           `json:"retry,omitempty"`
	TimeoutMs     int64                  `json:"timeout_ms,omitempty"`
	Conditions    []Condition            `json:"conditions,omitempty"`
	ErrorHandling ErrorPolicy            `json:"error_handling,omitempty"`
	FallbackStep  string                 `json:"fallback_step,omitempty"`
	// Parallel is reserved for future fan-out; the engine does not consult it.
	Parallel bool `json:"parallel,omitempty"`
}

// ConcurrencyConfig declares execution concurrency limits. The queue is a
// single consumer; MaxConcurrentExecutions is declarative policy.
type ConcurrencyConfig struct {
	MaxConcurrentExecutions int `json:"max_concurrent_executions"`
	QueueSize               int `json:"queue_size"`
}

// TimeoutConfig declares total and per-step timeout policy in milliseconds.
type TimeoutConfig struct {
	TotalTimeoutMs int64 `json:"total_timeout_ms"`
	StepTimeoutMs  int64 `json:"step_timeout_ms"`
}

// RetryPolicy is the workflow-level retry declaration.
type RetryPolicy struct {
	Enabled        bool            `json:"enabled"`
	MaxRetries     int             `json:"max_retries"`
	Backoff        BackoffStrategy `json:"backoff,omitempty"`
	InitialDelayMs int64           `json:"initial_delay_ms,omitempty"`
}

// MonitoringConfig toggles observability for a workflow.
type MonitoringConfig struct {
	Enabled       bool `json:"enabled"`
	CollectMetrics bool `json:"collect_metrics"`
	EmitEvents    bool `json:"emit_events"`
}

// RetentionConfig is the per-workflow execution history retention policy.
type RetentionConfig struct {
	KeepHistory          bool `json:"keep_history"`
	RetentionDays        int  `json:"retention_days"`
	KeepFailedExecutions bool `json:"keep_failed_executions"`
}

// Configuration is the per-workflow execution policy.
type Configuration struct {
	Concurrency ConcurrencyConfig `json:"concurrency"`
	Timeout     TimeoutConfig     `json:"timeout"`
	Retry       RetryPolicy       `json:"retry"`
	Monitoring  MonitoringConfig  `json:"monitoring"`
	Retention   RetentionConfig   `json:"retention"`
}

// Trigger declares what causes a workflow to run.
type Trigger struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"` // "manual", "schedule", "event", "webhook"
	Event  string                 `json:"event,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Schedule is optional cron-style schedule metadata.
type Schedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Workflow is a declarative, reusable integration process definition.
// Execution history is owned by the execution repository, keyed by
// workflow id, so definitions stay cheap to load and list.
type Workflow struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Type          Type                   `json:"type"`
	Status        Status                 `json:"status"`
	Priority      Priority               `json:"priority"`
	Steps         []Step                 `json:"steps"`
	Configuration Configuration          `json:"configuration"`
	Triggers      []Trigger              `json:"triggers,omitempty"`
	Schedule      *Schedule              `json:"schedule,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// StepByID returns the step with the given id, if present.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}
