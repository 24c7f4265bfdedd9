// Package registry holds the catalog of pluggable integration services
// (HL7 gateways, pharmacy, insurance, lab backends) that workflow steps
// dispatch to, plus the per-service health state maintained by the Monitor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Common errors returned by the registry.
var (
	ErrServiceNotFound = errors.New("service not found")
)

// Service is the interface every integration backend must implement.
// Operations are invoked with the current execution payload and the
// step-local configuration; the returned document becomes the running
// payload for subsequent steps.
type Service interface {
	Invoke(ctx context.Context, operation string, input, config map[string]interface{}) (map[string]interface{}, error)
}

// HealthProber is optionally implemented by services that expose their
// own liveness probe. Services without it are treated as trivially healthy.
type HealthProber interface {
	HealthStatus(ctx context.Context) ProbeResult
}

// ProbeResult is the raw outcome of a service health probe.
type ProbeResult struct {
	Status  string                 `json:"status"` // "UP" or anything else
	Details map[string]interface{} `json:"details,omitempty"`
}

// Status is the catalog availability of a registered service.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
)

// HealthState is the monitor's view of one service.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthDegraded  HealthState = "degraded"
)

// Registration describes a service being added to the catalog.
type Registration struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Instance     Service  `json:"-"`
}

// Entry is a catalog record. The bound instance is not serialized.
type Entry struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	Version         string    `json:"version"`
	Status          Status    `json:"status"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`

	instance Service
}

// HealthRecord is the monitor-maintained health of one service, tracked
// separately from the catalog entry.
type HealthRecord struct {
	ServiceID    string                 `json:"service_id"`
	Status       HealthState            `json:"status"`
	LastCheck    time.Time              `json:"last_check"`
	ResponseTime time.Duration          `json:"response_time_ns"`
	ErrorCount   int                    `json:"error_count"`
	Uptime       float64                `json:"uptime"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Registry is the thread-safe service catalog. The health map is mutated
// only by the Monitor; the execution engine reads status and instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	health  map[string]*HealthRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		health:  make(map[string]*HealthRecord),
	}
}

// Register adds or overwrites a catalog entry keyed by id. Registering
// over an existing id replaces the entry; a step dispatch that already
// resolved the previous instance is unaffected, since resolution returns
// the instance value, not a live reference into the catalog.
func (r *Registry) Register(reg Registration) error {
	if reg.ID == "" {
		return fmt.Errorf("service id is required")
	}
	if reg.Instance == nil {
		return fmt.Errorf("service %s: instance is required", reg.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.ID]; !exists {
		r.order = append(r.order, reg.ID)
	}
	r.entries[reg.ID] = &Entry{
		ID:           reg.ID,
		Name:         reg.Name,
		Type:         reg.Type,
		Version:      reg.Version,
		Status:       StatusAvailable,
		Capabilities: reg.Capabilities,
		Dependencies: reg.Dependencies,
		instance:     reg.Instance,
	}
	r.health[reg.ID] = &HealthRecord{
		ServiceID: reg.ID,
		Status:    HealthHealthy,
		Uptime:    100,
	}
	return nil
}

// Resolve returns the bound service instance for a registered id.
func (r *Registry) Resolve(serviceID string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}
	return e.instance, nil
}

// Capabilities returns the capability tags of a registered service.
func (r *Registry) Capabilities(serviceID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}
	caps := make([]string, len(e.Capabilities))
	copy(caps, e.Capabilities)
	return caps, nil
}

// Has reports whether a service id is registered.
func (r *Registry) Has(serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[serviceID]
	return ok
}

// Get returns a snapshot of the catalog entry for a service id.
func (r *Registry) Get(serviceID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serviceID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns catalog snapshots in registration order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		if e, ok := r.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Health returns the monitor's health record for one service.
func (r *Registry) Health(serviceID string) (HealthRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[serviceID]
	if !ok {
		return HealthRecord{}, false
	}
	return *h, true
}

// HealthSnapshot returns a copy of every service's health record.
func (r *Registry) HealthSnapshot() map[string]HealthRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HealthRecord, len(r.health))
	for id, h := range r.health {
		out[id] = *h
	}
	return out
}

// setHealth records a probe outcome and demotes or restores the catalog
// status accordingly. Returns the previous health state for transition
// detection. Called only by the Monitor.
func (r *Registry) setHealth(serviceID string, rec HealthRecord) (HealthState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serviceID]
	if !ok {
		return "", false
	}
	prev := HealthHealthy
	if old, ok := r.health[serviceID]; ok {
		prev = old.Status
		rec.ErrorCount = old.ErrorCount
	}
	if rec.Status != HealthHealthy {
		rec.ErrorCount++
	}
	rec.ServiceID = serviceID
	r.health[serviceID] = &rec

	e.LastHealthCheck = rec.LastCheck
	switch rec.Status {
	case HealthHealthy:
		e.Status = StatusAvailable
	case HealthDegraded:
		e.Status = StatusDegraded
	default:
		e.Status = StatusUnavailable
	}
	return prev, true
}
