// Package events carries committed exchange events to their consumers: the
// journal, the Kafka topic and the websocket feed.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/models"
)

// Sink consumes events in sequence order
type Sink interface {
	Handle(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev models.Event) error

func (f SinkFunc) Handle(ctx context.Context, ev models.Event) error {
	return f(ctx, ev)
}

type namedSink struct {
	name string
	sink Sink
}

// Bus queues events emitted by the exchange and delivers them to every
// subscribed sink from a single goroutine. Emit blocks when the queue is
// full, so a stalled sink eventually stalls the exchange rather than
// losing events.
type Bus struct {
	logger *zap.Logger
	queue  chan models.Event

	sinksMu sync.Mutex
	sinks   []namedSink

	// mu guards closed and the queue's close against concurrent Emit
	mu     sync.RWMutex
	closed bool

	once sync.Once
	done chan struct{}
}

// NewBus creates a bus with room for size pending events
func NewBus(size int, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger,
		queue:  make(chan models.Event, size),
		done:   make(chan struct{}),
	}
}

// Subscribe adds a sink. Sinks added after Run starts only see later events.
func (b *Bus) Subscribe(name string, s Sink) {
	b.sinksMu.Lock()
	defer b.sinksMu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
}

// Emit implements exchange.Emitter. Events emitted after Close are dropped.
func (b *Bus) Emit(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("event dropped, bus closed", zap.Uint64("seq", ev.Seq), zap.String("type", string(ev.Type)))
		return
	}
	b.queue <- ev
}

// Run delivers events until Close is called and the queue is drained.
// Sink errors are logged and do not stop delivery to the other sinks.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for ev := range b.queue {
		b.sinksMu.Lock()
		sinks := b.sinks
		b.sinksMu.Unlock()

		for _, s := range sinks {
			if err := s.sink.Handle(ctx, ev); err != nil {
				b.logger.Error("sink failed",
					zap.String("sink", s.name),
					zap.Uint64("seq", ev.Seq),
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}

// Close stops accepting events and waits for Run to deliver what is queued.
// It must not be called before Run has been started.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
	<-b.done
}
