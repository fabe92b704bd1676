package pubsub

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is returned by Next once a stream has been cancelled
var ErrStreamClosed = errors.New("stream closed")

// Bus is an in-process publish/subscribe registry keyed by topic
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Stream]struct{}
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string]map[*Stream]struct{}),
	}
}

// Publish delivers payload to every current subscriber of topic
func (b *Bus) Publish(topic string, payload interface{}) {
	b.deliver(topic, payload)
}

// PublishWithAck delivers payload and reports whether at least one live
// subscriber received it
func (b *Bus) PublishWithAck(topic string, payload interface{}) bool {
	return b.deliver(topic, payload) > 0
}

// Subscribe opens a stream on topic. onCancel, when not nil, runs once the
// stream is deregistered and before it reports completion.
func (b *Bus) Subscribe(topic string, onCancel func()) *Stream {
	s := &Stream{
		topic:    topic,
		bus:      b,
		onCancel: onCancel,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Stream]struct{})
	}
	b.topics[topic][s] = struct{}{}
	return s
}

// Subscribers returns the number of live streams on topic
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) deliver(topic string, payload interface{}) int {
	b.mu.RLock()
	streams := make([]*Stream, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		streams = append(streams, s)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, s := range streams {
		if s.push(payload) {
			delivered++
		}
	}
	return delivered
}

func (b *Bus) remove(s *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if streams, ok := b.topics[s.topic]; ok {
		delete(streams, s)
		if len(streams) == 0 {
			delete(b.topics, s.topic)
		}
	}
}

// Stream is an unbounded, cancellable sequence of payloads for one topic
type Stream struct {
	topic    string
	bus      *Bus
	onCancel func()

	mu     sync.Mutex
	queue  []interface{}
	closed bool
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Topic returns the topic the stream listens on
func (s *Stream) Topic() string {
	return s.topic
}

// Next blocks until a payload is available, the stream is cancelled or ctx
// is done
func (s *Stream) Next(ctx context.Context) (interface{}, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrStreamClosed
		}
		if len(s.queue) > 0 {
			v := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel deregisters the stream, runs the cleanup hook and then closes Done.
// Only the first call has any effect.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)

		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		if s.onCancel != nil {
			s.onCancel()
		}
		close(s.done)
	})
}

// Done is closed after cancellation has completed
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) push(payload interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, payload)
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}
