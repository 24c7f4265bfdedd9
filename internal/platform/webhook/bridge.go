package webhook

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/platform/events"
)

// Bridge forwards bus events to the webhook manager. Delivery runs on a
// worker goroutine so a slow endpoint never blocks a publisher.
type Bridge struct {
	manager *Manager
	ch      chan events.Event
	logger  zerolog.Logger
}

// NewBridge creates a bridge subscribed to every event on the bus.
func NewBridge(manager *Manager, bus *events.Bus, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		manager: manager,
		ch:      make(chan events.Event, 256),
		logger:  logger.With().Str("component", "webhook-bridge").Logger(),
	}
	bus.SubscribeAll(func(e events.Event) {
		select {
		case b.ch <- e:
		default:
			b.logger.Warn().Str("event_type", string(e.Type)).
				Msg("webhook delivery backlog full, dropping event")
		}
	})
	return b
}

// Run delivers forwarded events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.ch:
			attempts := b.manager.Deliver(ctx, Event{
				ID:        e.ID,
				Type:      string(e.Type),
				Timestamp: e.Timestamp,
				Data:      e.Data,
			})
			for _, a := range attempts {
				if a.Status != "success" {
					b.logger.Warn().Str("endpoint_id", a.EndpointID).
						Str("event_type", a.EventType).Str("error", a.Error).
						Msg("webhook delivery failed")
				}
			}
		}
	}
}
