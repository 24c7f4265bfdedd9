package execution

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the queue cannot accept another execution.
var ErrQueueFull = errors.New("execution queue is full")

// DefaultQueueSize bounds the pending execution backlog.
const DefaultQueueSize = 1000

// Queue is the FIFO execution backlog with a single consumer. Enqueue is
// non-blocking; the consumer blocks on the channel, so an idle queue costs
// nothing.
type Queue struct {
	ch      chan string
	engine  *Engine
	logger  zerolog.Logger
	running atomic.Int32
}

// NewQueue creates a bounded execution queue feeding the engine.
func NewQueue(engine *Engine, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:     make(chan string, size),
		engine: engine,
		logger: logger.With().Str("component", "execution-queue").Logger(),
	}
}

// Enqueue adds an execution id to the backlog without blocking.
func (q *Queue) Enqueue(executionID string) error {
	select {
	case q.ch <- executionID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports the number of queued executions.
func (q *Queue) Depth() int { return len(q.ch) }

// Running reports whether an execution is currently being processed.
func (q *Queue) Running() bool { return q.running.Load() > 0 }

// Run consumes the queue until the context is cancelled. Executions are
// processed strictly one at a time in arrival order; a failing execution
// never stalls the consumer.
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info().Int("capacity", cap(q.ch)).Msg("execution queue consumer started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info().Msg("execution queue consumer stopped")
			return
		case id := <-q.ch:
			q.running.Store(1)
			if err := q.engine.Process(ctx, id); err != nil {
				q.logger.Error().Str("execution_id", id).Err(err).
					Msg("failed to process execution")
			}
			q.running.Store(0)
		}
	}
}
