package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orchestrator/internal/orchestrator/registry"
)

// InsuranceService is an in-memory payer backend for eligibility checks
// and claim submission. Coverage is keyed by member id prefix so test
// payloads can steer the outcome.
type InsuranceService struct {
	mu     sync.RWMutex
	claims map[string]map[string]interface{}
}

// NewInsuranceService creates an empty payer backend.
func NewInsuranceService() *InsuranceService {
	return &InsuranceService{claims: make(map[string]map[string]interface{})}
}

// Invoke handles check-eligibility, submit-claim, and claim-status.
func (s *InsuranceService) Invoke(_ context.Context, operation string, input, _ map[string]interface{}) (map[string]interface{}, error) {
	switch operation {
	case "check-eligibility":
		return s.checkEligibility(input)
	case "submit-claim":
		return s.submitClaim(input)
	case "claim-status":
		return s.claimStatus(input)
	}
	return nil, fmt.Errorf("insurance: unknown operation %q", operation)
}

func (s *InsuranceService) checkEligibility(input map[string]interface{}) (map[string]interface{}, error) {
	memberID := memberIDFrom(input)
	if memberID == "" {
		return nil, fmt.Errorf("insurance: payload is missing member_id")
	}

	// Member ids starting with "X" are treated as lapsed coverage.
	eligible := !strings.HasPrefix(memberID, "X")

	out := copyPayload(input)
	out["eligible"] = eligible
	out["coverage"] = map[string]interface{}{
		"member_id": memberID,
		"plan":      "standard",
		"active":    eligible,
	}
	return out, nil
}

func (s *InsuranceService) submitClaim(input map[string]interface{}) (map[string]interface{}, error) {
	claim, _ := input["claim"].(map[string]interface{})
	if claim == nil {
		return nil, fmt.Errorf("insurance: payload is missing claim")
	}
	if memberIDFrom(input) == "" {
		return nil, fmt.Errorf("insurance: payload is missing member_id")
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.claims[id] = map[string]interface{}{
		"claim":        claim,
		"status":       "adjudicating",
		"submitted_at": time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()

	out := copyPayload(input)
	out["claim_id"] = id
	out["claim_status"] = "adjudicating"
	return out, nil
}

func (s *InsuranceService) claimStatus(input map[string]interface{}) (map[string]interface{}, error) {
	id, _ := input["claim_id"].(string)
	s.mu.RLock()
	rec, ok := s.claims[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("insurance: claim %q not found", id)
	}

	out := copyPayload(input)
	out["claim_status"] = rec["status"]
	return out, nil
}

func memberIDFrom(input map[string]interface{}) string {
	if id, ok := input["member_id"].(string); ok {
		return id
	}
	if patient, ok := input["patient"].(map[string]interface{}); ok {
		id, _ := patient["member_id"].(string)
		return id
	}
	return ""
}

// HealthStatus reports the pending claim backlog.
func (s *InsuranceService) HealthStatus(context.Context) registry.ProbeResult {
	s.mu.RLock()
	n := len(s.claims)
	s.mu.RUnlock()
	return registry.ProbeResult{
		Status:  "UP",
		Details: map[string]interface{}{"claims": n},
	}
}
