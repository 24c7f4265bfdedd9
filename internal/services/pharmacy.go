package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orchestrator/internal/orchestrator/registry"
)

// PharmacyService is an in-memory pharmacy backend with a small drug
// inventory and a prescription log.
type PharmacyService struct {
	mu            sync.RWMutex
	inventory     map[string]int
	prescriptions map[string]map[string]interface{}
}

// NewPharmacyService creates a pharmacy backend seeded with a few stocked
// drugs.
func NewPharmacyService() *PharmacyService {
	return &PharmacyService{
		inventory: map[string]int{
			"amoxicillin":  120,
			"lisinopril":   80,
			"metformin":    200,
			"atorvastatin": 60,
		},
		prescriptions: make(map[string]map[string]interface{}),
	}
}

// Invoke handles send-prescription, check-inventory, and refill.
func (s *PharmacyService) Invoke(_ context.Context, operation string, input, _ map[string]interface{}) (map[string]interface{}, error) {
	switch operation {
	case "send-prescription":
		return s.sendPrescription(input)
	case "check-inventory":
		return s.checkInventory(input)
	case "refill":
		return s.refill(input)
	}
	return nil, fmt.Errorf("pharmacy: unknown operation %q", operation)
}

func (s *PharmacyService) sendPrescription(input map[string]interface{}) (map[string]interface{}, error) {
	rx, _ := input["prescription"].(map[string]interface{})
	if rx == nil {
		return nil, fmt.Errorf("pharmacy: payload is missing prescription")
	}
	drug, _ := rx["drug"].(string)
	if drug == "" {
		return nil, fmt.Errorf("pharmacy: prescription is missing drug")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stock := s.inventory[drug]
	if stock <= 0 {
		return nil, fmt.Errorf("pharmacy: %s is out of stock", drug)
	}
	s.inventory[drug] = stock - 1

	id := uuid.NewString()
	s.prescriptions[id] = map[string]interface{}{
		"prescription": rx,
		"status":       "dispensing",
		"received_at":  time.Now().UTC().Format(time.RFC3339),
	}

	out := copyPayload(input)
	out["prescription_id"] = id
	out["prescription_status"] = "dispensing"
	return out, nil
}

func (s *PharmacyService) checkInventory(input map[string]interface{}) (map[string]interface{}, error) {
	drug, _ := input["drug"].(string)
	if drug == "" {
		if rx, ok := input["prescription"].(map[string]interface{}); ok {
			drug, _ = rx["drug"].(string)
		}
	}
	if drug == "" {
		return nil, fmt.Errorf("pharmacy: payload is missing drug")
	}

	s.mu.RLock()
	stock, known := s.inventory[drug]
	s.mu.RUnlock()

	out := copyPayload(input)
	out["drug"] = drug
	out["in_stock"] = known && stock > 0
	out["stock_level"] = stock
	return out, nil
}

func (s *PharmacyService) refill(input map[string]interface{}) (map[string]interface{}, error) {
	id, _ := input["prescription_id"].(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.prescriptions[id]
	if !ok {
		return nil, fmt.Errorf("pharmacy: prescription %q not found", id)
	}
	rx := rec["prescription"].(map[string]interface{})
	drug, _ := rx["drug"].(string)
	if s.inventory[drug] <= 0 {
		return nil, fmt.Errorf("pharmacy: %s is out of stock", drug)
	}
	s.inventory[drug]--

	out := copyPayload(input)
	out["prescription_status"] = "refilled"
	return out, nil
}

// HealthStatus degrades when any stocked drug has run out.
func (s *PharmacyService) HealthStatus(context.Context) registry.ProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var empty []string
	for drug, stock := range s.inventory {
		if stock <= 0 {
			empty = append(empty, drug)
		}
	}
	if len(empty) > 0 {
		return registry.ProbeResult{
			Status:  "DEGRADED",
			Details: map[string]interface{}{"out_of_stock": empty},
		}
	}
	return registry.ProbeResult{Status: "UP"}
}
