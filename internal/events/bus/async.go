package bus

import (
	"context"
	"log/slog"
	"sync"

	"permwatch/internal/events/models"
)

// ringBuffer is a bounded FIFO that drops its oldest entry when full.
type ringBuffer struct {
	mu       sync.Mutex
	events   []models.DomainEvent
	head     int // next write position
	tail     int // next read position
	count    int
	dropped  int64
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{
		events:   make([]models.DomainEvent, capacity),
		capacity: capacity,
	}
}

// enqueue reports false when the oldest entry had to be dropped.
func (b *ringBuffer) enqueue(ev models.DomainEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := true
	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		kept = false
	}
	b.events[b.head] = ev
	b.head = (b.head + 1) % b.capacity
	b.count++
	return kept
}

func (b *ringBuffer) dequeueBatch(n int) []models.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	out := make([]models.DomainEvent, n)
	for i := 0; i < n; i++ {
		out[i] = b.events[b.tail]
		b.events[b.tail] = models.DomainEvent{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

const drainBatch = 64

// Async decouples callers from a slow sink. Publish enqueues and returns;
// a single worker forwards events in order. Close drains what is buffered.
type Async struct {
	next   Publisher
	buf    *ringBuffer
	logger *slog.Logger

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type AsyncOption func(*Async)

func WithBuffer(capacity int) AsyncOption {
	return func(a *Async) {
		a.buf = newRingBuffer(capacity)
	}
}

func WithLogger(logger *slog.Logger) AsyncOption {
	return func(a *Async) {
		a.logger = logger
	}
}

// NewAsync starts the forwarding worker for next.
func NewAsync(next Publisher, opts ...AsyncOption) *Async {
	a := &Async{
		next:   next,
		buf:    newRingBuffer(0),
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, ev models.DomainEvent) error {
	if !a.buf.enqueue(ev) {
		droppedEvents.Inc()
	}
	bufferedEvents.Set(float64(a.buf.len()))
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			a.drain()
			return
		case <-a.wake:
			a.drain()
		}
	}
}

func (a *Async) drain() {
	// Forwarding outlives any caller context.
	ctx := context.Background()
	for {
		batch := a.buf.dequeueBatch(drainBatch)
		if len(batch) == 0 {
			bufferedEvents.Set(0)
			return
		}
		for _, ev := range batch {
			if err := a.next.Publish(ctx, ev); err != nil {
				publishFailures.Inc()
				a.logger.Warn("event fan-out failed", "event", ev.Event, "dedup_key", ev.DedupKey(), "error", err)
				continue
			}
			publishedEvents.Inc()
		}
	}
}

// Close flushes buffered events and closes the wrapped sink.
func (a *Async) Close() error {
	a.once.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
	return a.next.Close()
}
