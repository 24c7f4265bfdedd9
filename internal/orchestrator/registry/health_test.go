package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/platform/events"
)

func newTestMonitor(r *Registry, bus *events.Bus) *Monitor {
	return NewMonitor(r, time.Minute, bus, zerolog.Nop())
}

func TestMonitor_HealthyWithoutProbe(t *testing.T) {
	r := New()
	mustRegister(t, r, "lab", echoService{})

	newTestMonitor(r, nil).CheckAll(context.Background())

	h, ok := r.Health("lab")
	if !ok {
		t.Fatal("expected health record")
	}
	if h.Status != HealthHealthy {
		t.Errorf("expected healthy, got %q", h.Status)
	}
	if h.Uptime != 100 {
		t.Errorf("expected uptime 100, got %v", h.Uptime)
	}
	if h.LastCheck.IsZero() {
		t.Error("expected last check time to be set")
	}
}

func TestMonitor_DegradesOnNonUpResult(t *testing.T) {
	r := New()
	mustRegister(t, r, "pharmacy", &probedService{result: ProbeResult{Status: "DOWN"}})

	newTestMonitor(r, nil).CheckAll(context.Background())

	h, _ := r.Health("pharmacy")
	if h.Status != HealthDegraded {
		t.Errorf("expected degraded, got %q", h.Status)
	}
	entry, _ := r.Get("pharmacy")
	if entry.Status != StatusDegraded {
		t.Errorf("expected catalog status degraded, got %q", entry.Status)
	}
}

func TestMonitor_PanickingProbeIsIsolated(t *testing.T) {
	r := New()
	mustRegister(t, r, "bad", &probedService{panics: true})
	mustRegister(t, r, "good", echoService{})

	newTestMonitor(r, nil).CheckAll(context.Background())

	bad, _ := r.Health("bad")
	if bad.Status != HealthUnhealthy {
		t.Errorf("expected unhealthy, got %q", bad.Status)
	}
	if bad.Uptime != 0 {
		t.Errorf("expected zero uptime, got %v", bad.Uptime)
	}
	if bad.Details["error"] == nil {
		t.Error("expected error message retained in details")
	}
	entry, _ := r.Get("bad")
	if entry.Status != StatusUnavailable {
		t.Errorf("expected catalog status unavailable, got %q", entry.Status)
	}

	// The failing probe must not affect the other service.
	good, _ := r.Health("good")
	if good.Status != HealthHealthy {
		t.Errorf("expected good service healthy, got %q", good.Status)
	}
}

func TestMonitor_RecoveryRestoresAvailable(t *testing.T) {
	r := New()
	svc := &probedService{result: ProbeResult{Status: "DOWN"}}
	mustRegister(t, r, "lab", svc)

	m := newTestMonitor(r, nil)
	m.CheckAll(context.Background())

	svc.result = ProbeResult{Status: "UP"}
	m.CheckAll(context.Background())

	h, _ := r.Health("lab")
	if h.Status != HealthHealthy {
		t.Errorf("expected healthy after recovery, got %q", h.Status)
	}
	entry, _ := r.Get("lab")
	if entry.Status != StatusAvailable {
		t.Errorf("expected catalog status restored to available, got %q", entry.Status)
	}
}

func TestMonitor_PublishesHealthTransitions(t *testing.T) {
	r := New()
	svc := &probedService{result: ProbeResult{Status: "UP"}}
	mustRegister(t, r, "lab", svc)

	bus := events.NewBus()
	var transitions []events.Event
	bus.Subscribe(events.ServiceHealthChanged, func(e events.Event) {
		transitions = append(transitions, e)
	})

	m := newTestMonitor(r, bus)
	m.CheckAll(context.Background()) // healthy -> healthy, no event
	svc.result = ProbeResult{Status: "DOWN"}
	m.CheckAll(context.Background()) // healthy -> degraded
	m.CheckAll(context.Background()) // degraded -> degraded, no event

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition event, got %d", len(transitions))
	}
	if transitions[0].Data["to"] != "degraded" {
		t.Errorf("unexpected transition payload: %v", transitions[0].Data)
	}
}

func TestMonitor_ErrorCountAccumulates(t *testing.T) {
	r := New()
	mustRegister(t, r, "flaky", &probedService{panics: true})

	m := newTestMonitor(r, nil)
	m.CheckAll(context.Background())
	m.CheckAll(context.Background())
	m.CheckAll(context.Background())

	h, _ := r.Health("flaky")
	if h.ErrorCount != 3 {
		t.Errorf("expected error count 3, got %d", h.ErrorCount)
	}
}
