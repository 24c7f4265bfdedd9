package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orchestrator/internal/orchestrator/registry"
)

// LabService is an in-memory laboratory backend. Orders accumulate for
// the lifetime of the process; results are synthesized on request so a
// freshly submitted order can be read back in the same workflow.
type LabService struct {
	mu     sync.RWMutex
	orders map[string]map[string]interface{}
}

// NewLabService creates an empty lab backend.
func NewLabService() *LabService {
	return &LabService{orders: make(map[string]map[string]interface{})}
}

// Invoke handles submit-order, get-results, and cancel-order.
func (s *LabService) Invoke(_ context.Context, operation string, input, _ map[string]interface{}) (map[string]interface{}, error) {
	switch operation {
	case "submit-order":
		return s.submitOrder(input)
	case "get-results":
		return s.getResults(input)
	case "cancel-order":
		return s.cancelOrder(input)
	}
	return nil, fmt.Errorf("lab: unknown operation %q", operation)
}

func (s *LabService) submitOrder(input map[string]interface{}) (map[string]interface{}, error) {
	order, _ := input["order"].(map[string]interface{})
	if order == nil {
		return nil, fmt.Errorf("lab: payload is missing order")
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.orders[id] = map[string]interface{}{
		"order":        order,
		"status":       "received",
		"submitted_at": time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()

	out := copyPayload(input)
	out["lab_order_id"] = id
	out["lab_order_status"] = "received"
	return out, nil
}

func (s *LabService) getResults(input map[string]interface{}) (map[string]interface{}, error) {
	id, _ := input["lab_order_id"].(string)
	s.mu.RLock()
	rec, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lab: order %q not found", id)
	}
	if rec["status"] == "cancelled" {
		return nil, fmt.Errorf("lab: order %s is cancelled", id)
	}

	out := copyPayload(input)
	out["lab_results"] = map[string]interface{}{
		"order_id": id,
		"status":   "final",
		"observations": []interface{}{
			map[string]interface{}{"code": "WBC", "value": 6.1, "unit": "10*3/uL"},
			map[string]interface{}{"code": "HGB", "value": 13.8, "unit": "g/dL"},
		},
	}
	return out, nil
}

func (s *LabService) cancelOrder(input map[string]interface{}) (map[string]interface{}, error) {
	id, _ := input["lab_order_id"].(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("lab: order %q not found", id)
	}
	rec["status"] = "cancelled"

	out := copyPayload(input)
	out["lab_order_status"] = "cancelled"
	return out, nil
}

// HealthStatus reports the backlog size alongside liveness.
func (s *LabService) HealthStatus(context.Context) registry.ProbeResult {
	s.mu.RLock()
	n := len(s.orders)
	s.mu.RUnlock()
	return registry.ProbeResult{
		Status:  "UP",
		Details: map[string]interface{}{"orders": n},
	}
}

func copyPayload(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
