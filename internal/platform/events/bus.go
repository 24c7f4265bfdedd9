// Package events provides the orchestrator's in-process publish/subscribe
// bus. Components publish typed events; subscribers (webhook delivery, the
// WebSocket hub, loggers) receive them synchronously. The bus replaces a
// process-global emitter: it is constructed once in main and passed to the
// components that need it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an orchestrator event.
type Type string

const (
	WorkflowCreated      Type = "workflow.created"
	ExecutionStarted     Type = "execution.started"
	ExecutionCompleted   Type = "execution.completed"
	ExecutionFailed      Type = "execution.failed"
	ServiceHealthChanged Type = "service.health_changed"
)

// Event is a single orchestrator notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New builds an event with a fresh id and the current timestamp.
func New(t Type, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Handler receives published events. Handlers must not block for long;
// delivery is synchronous on the publisher's goroutine.
type Handler func(Event)

// Bus fans events out to subscribers. All methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event to all matching handlers. A panicking handler
// is isolated so it cannot take down the publisher or other subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	typed := make([]Handler, len(b.handlers[e.Type]))
	copy(typed, b.handlers[e.Type])
	all := make([]Handler, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()

	for _, h := range typed {
		safeCall(h, e)
	}
	for _, h := range all {
		safeCall(h, e)
	}
}

func safeCall(h Handler, e Event) {
	defer func() { _ = recover() }()
	h(e)
}
