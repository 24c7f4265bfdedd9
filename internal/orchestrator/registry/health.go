package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/platform/events"
)

// DefaultCheckInterval is how often the monitor polls every service.
const DefaultCheckInterval = 60 * time.Second

// Monitor periodically probes every registered service and updates the
// registry's health state. One failing probe never blocks the others.
type Monitor struct {
	registry *Registry
	interval time.Duration
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewMonitor creates a monitor polling at the given interval (the default
// is used when interval is zero). bus may be nil.
func NewMonitor(r *Registry, interval time.Duration, bus *events.Bus, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Monitor{
		registry: r,
		interval: interval,
		bus:      bus,
		logger:   logger.With().Str("component", "health-monitor").Logger(),
	}
}

// Run blocks, probing all services once per interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered service once.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, entry := range m.registry.List() {
		m.checkOne(ctx, entry)
	}
}

func (m *Monitor) checkOne(ctx context.Context, entry Entry) {
	start := time.Now()
	result, err := m.probe(ctx, entry)
	elapsed := time.Since(start)

	rec := HealthRecord{
		LastCheck:    time.Now(),
		ResponseTime: elapsed,
		Details:      result.Details,
	}
	switch {
	case err != nil:
		rec.Status = HealthUnhealthy
		rec.Uptime = 0
		rec.Details = map[string]interface{}{"error": err.Error()}
	case result.Status == "UP":
		rec.Status = HealthHealthy
		rec.Uptime = 100
	default:
		rec.Status = HealthDegraded
		rec.Uptime = 0
	}

	prev, ok := m.registry.setHealth(entry.ID, rec)
	if !ok {
		return
	}

	if prev != rec.Status {
		m.logger.Info().
			Str("service_id", entry.ID).
			Str("from", string(prev)).
			Str("to", string(rec.Status)).
			Dur("response_time", elapsed).
			Msg("service health transition")
		if m.bus != nil {
			m.bus.Publish(events.New(events.ServiceHealthChanged, map[string]interface{}{
				"service_id": entry.ID,
				"from":       string(prev),
				"to":         string(rec.Status),
			}))
		}
	}
}

// probe invokes the service's own health probe when it exposes one,
// defaulting to a trivially-healthy result otherwise. A panicking probe
// is recovered and reported as an error so the monitor loop survives.
func (m *Monitor) probe(ctx context.Context, entry Entry) (result ProbeResult, err error) {
	instance, resolveErr := m.registry.Resolve(entry.ID)
	if resolveErr != nil {
		return ProbeResult{}, resolveErr
	}
	prober, ok := instance.(HealthProber)
	if !ok {
		return ProbeResult{Status: "UP"}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health probe panicked: %v", r)
		}
	}()
	return prober.HealthStatus(ctx), nil
}
