// Package pubsub is an in-process topic broker. It carries raw frames
// between simulated peers that share one process.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShutdown is returned by Subscribe after Shutdown
var ErrShutdown = errors.New("pubsub: broker is shut down")

// DefaultBuffer is the per-subscription queue length
const DefaultBuffer = 256

// Broker fans published frames out to every subscription of a topic.
// Publishing never blocks: a subscriber whose queue is full misses the frame
// and the broker counts it as dropped.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	buffer      int
	dropped     atomic.Int64

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// Subscription receives the frames published to one topic
type Subscription struct {
	topic     string
	ch        chan []byte
	broker    *Broker
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewBroker creates a broker. buffer <= 0 selects DefaultBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subscribers: make(map[string]map[*Subscription]struct{}),
		buffer:      buffer,
		shutdown:    make(chan struct{}),
	}
}

// Subscribe registers a subscription that lives until ctx is cancelled,
// Unsubscribe is called or the broker shuts down.
func (b *Broker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	select {
	case <-b.shutdown:
		return nil, ErrShutdown
	default:
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:  topic,
		ch:     make(chan []byte, b.buffer),
		broker: b,
		cancel: cancel,
	}

	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[*Subscription]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-b.shutdown:
			sub.close()
		}
	}()

	return sub, nil
}

// Publish delivers frame to every current subscriber of topic and returns
// how many received it.
func (b *Broker) Publish(topic string, frame []byte) int {
	select {
	case <-b.shutdown:
		return 0
	default:
	}

	// snapshot under the lock so a concurrent Unsubscribe cannot close a
	// channel we are about to send on
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.subscribers[topic] {
		select {
		case sub.ch <- frame:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// SubscriberCount returns the number of subscriptions on topic
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Dropped returns how many frames were lost to full queues
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown closes every subscription. It is idempotent.
func (b *Broker) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdown)

		b.mu.Lock()
		defer b.mu.Unlock()
		for topic, subs := range b.subscribers {
			for sub := range subs {
				sub.close()
			}
			delete(b.subscribers, topic)
		}
	})
}

// C returns the frame channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Topic returns the subscribed topic
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the subscription and closes its channel
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if subs := s.broker.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.broker.subscribers, s.topic)
		}
	}
	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
