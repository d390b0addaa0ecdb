// Package bus provides the in-process communication fabric: a broadcast
// topic every worker subscribes to, and a bounded upstream request queue
// workers use to report results to the orchestrator.
//
// Broadcast delivery is best-effort per subscriber: each subscription owns
// a bounded buffer, and when a slow subscriber overflows it the oldest
// buffered message is dropped. The next Recv then reports how many
// messages were missed before resuming delivery.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/model"
)

// DefaultCapacity bounds both subscriber buffers and the request queue.
const DefaultCapacity = 100

// ErrClosed is returned once the bus has shut down.
var ErrClosed = errors.New("bus closed")

// LaggedError reports dropped messages on a slow subscription. Delivery
// resumes on the next Recv.
type LaggedError struct {
	Count uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscription lagged, %d messages dropped", e.Count)
}

// Request is the union carried on the upstream queue.
// Exactly one field is set.
type Request struct {
	Message  *model.Message
	Response *model.AgentResponse
}

// Bus is the broadcast topic plus the upstream request queue.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	closed   bool
	capacity int

	requests chan Request
	done     chan struct{}
}

// New creates a bus with DefaultCapacity buffers.
func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a bus with the given buffer capacity.
func NewWithCapacity(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		requests: make(chan Request, capacity),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a new broadcast subscriber. Messages published
// before the subscription are not delivered to it.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan model.Message, b.capacity),
	}
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.nextID++
	b.subs[s.id] = s
	return s
}

// Publish fans a message out to every live subscription. Publishing on a
// closed bus is a no-op.
func (b *Bus) Publish(msg model.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	metrics.BusPublished.Inc()
	for _, s := range b.subs {
		s.push(msg)
	}
}

// Send enqueues an upstream request, blocking while the queue is full
// until ctx is done or the bus closes.
func (b *Bus) Send(ctx context.Context, req Request) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.requests <- req:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "send upstream request")
	}
}

// Requests exposes the upstream queue. The orchestrator is its single
// consumer.
func (b *Bus) Requests() <-chan Request {
	return b.requests
}

// Close shuts the bus down. Subsequent publishes are dropped and all
// subscriptions observe ErrClosed after draining their buffers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for _, s := range b.subs {
		s.close()
	}
	b.subs = nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		s.close()
	}
}

// Subscription is one subscriber's view of the broadcast topic.
type Subscription struct {
	id  uint64
	bus *Bus

	pushMu sync.Mutex
	closed bool
	ch     chan model.Message
	lagged atomic.Uint64
}

func (s *Subscription) push(msg model.Message) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		// Buffer full: evict the oldest message and retry.
		select {
		case <-s.ch:
			s.lagged.Add(1)
			metrics.BusDropped.Inc()
		default:
		}
	}
}

// Recv returns the next message. After an overflow it first returns a
// *LaggedError carrying the number of dropped messages, then resumes with
// the oldest retained message. A drained closed subscription returns
// ErrClosed.
func (s *Subscription) Recv(ctx context.Context) (model.Message, error) {
	if n := s.lagged.Swap(0); n > 0 {
		return model.Message{}, &LaggedError{Count: n}
	}
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return model.Message{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

// Unsubscribe detaches this subscription from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

func (s *Subscription) close() {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
