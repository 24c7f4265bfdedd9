package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/platform/events"
)

// ServiceCatalog is the slice of the registry the validator needs: whether
// a step's target service is registered.
type ServiceCatalog interface {
	Has(serviceID string) bool
}

// ValidationError aggregates every violation found in a definition, so a
// caller can fix all of them in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow validation failed: %s", strings.Join(e.Violations, "; "))
}

// Service validates and persists workflow definitions.
type Service struct {
	repo    Repository
	catalog ServiceCatalog
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewService creates a workflow service. bus may be nil.
func NewService(repo Repository, catalog ServiceCatalog, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		bus:     bus,
		logger:  logger.With().Str("component", "workflow").Logger(),
	}
}

// Validate checks a definition and returns every violation found.
func (s *Service) Validate(w *Workflow) []string {
	var violations []string
	if strings.TrimSpace(w.Name) == "" {
		violations = append(violations, "workflow name is required")
	}
	if len(w.Steps) == 0 {
		violations = append(violations, "workflow must have at least one step")
	}

	ids := make(map[string]bool, len(w.Steps))
	for i := range w.Steps {
		if w.Steps[i].ID != "" {
			ids[w.Steps[i].ID] = true
		}
	}
	for i := range w.Steps {
		step := &w.Steps[i]
		if strings.TrimSpace(step.Name) == "" {
			violations = append(violations, fmt.Sprintf("step %d: name is required", i))
		}
		if step.Service == "" {
			violations = append(violations, fmt.Sprintf("step %d: service is required", i))
		} else if s.catalog != nil && !s.catalog.Has(step.Service) {
			violations = append(violations, fmt.Sprintf("step %d: service %q is not registered", i, step.Service))
		}
		if step.Operation == "" {
			violations = append(violations, fmt.Sprintf("step %d: operation is required", i))
		}
		if step.FallbackStep != "" {
			if step.FallbackStep == step.ID {
				violations = append(violations, fmt.Sprintf("step %d: fallback_step must reference another step", i))
			} else if !ids[step.FallbackStep] {
				violations = append(violations, fmt.Sprintf("step %d: fallback_step %q does not exist in this workflow", i, step.FallbackStep))
			}
		}
	}
	return violations
}

// Create validates the definition, fills defaults, and persists it.
// Validation failures abort with a ValidationError listing every violation.
func (s *Service) Create(ctx context.Context, w *Workflow) error {
	if violations := s.Validate(w); len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}

	now := time.Now()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Type == "" {
		w.Type = TypeManual
	}
	if w.Status == "" {
		w.Status = StatusActive
	}
	if w.Priority == "" {
		w.Priority = PriorityNormal
	}
	for i := range w.Steps {
		if w.Steps[i].ID == "" {
			w.Steps[i].ID = uuid.New().String()
		}
		if w.Steps[i].Order == 0 {
			w.Steps[i].Order = i + 1
		}
		if w.Steps[i].ErrorHandling == "" {
			w.Steps[i].ErrorHandling = ErrorStop
		}
	}
	w.Version = 1
	w.CreatedAt = now
	w.UpdatedAt = now

	if err := s.repo.Create(ctx, w); err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	s.logger.Info().Str("workflow_id", w.ID).Str("name", w.Name).Int("steps", len(w.Steps)).Msg("workflow created")
	if s.bus != nil {
		s.bus.Publish(events.New(events.WorkflowCreated, map[string]interface{}{
			"workflow_id": w.ID,
			"name":        w.Name,
			"type":        string(w.Type),
		}))
	}
	return nil
}

// Get loads one workflow definition.
func (s *Service) Get(ctx context.Context, id string) (*Workflow, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns paginated workflow definitions.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Workflow, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// SetStatus updates a workflow's lifecycle status (pause/resume/retire).
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Workflow, error) {
	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}
