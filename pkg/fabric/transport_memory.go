package fabric

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/pubsub"
)

// MemoryNetwork is an in-process transport. Several fabrics sharing one
// network behave like peers on a LAN, which lets tests run a whole cluster
// in one process. Unlike real PUB/SUB there is no slow-joiner window: a SUB
// socket receives everything published after Dial returns.
type MemoryNetwork struct {
	broker *pubsub.Broker

	mu        sync.Mutex
	listeners map[string]struct{}
}

// NewMemoryNetwork creates an isolated network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		broker:    pubsub.NewBroker(1024),
		listeners: make(map[string]struct{}),
	}
}

var (
	defaultNetwork     *MemoryNetwork
	defaultNetworkOnce sync.Once
)

// DefaultMemoryNetwork returns the process-wide network used by the
// "memory" transport name.
func DefaultMemoryNetwork() *MemoryNetwork {
	defaultNetworkOnce.Do(func() {
		defaultNetwork = NewMemoryNetwork()
	})
	return defaultNetwork
}

// Close shuts the network down, closing every socket's receive side
func (n *MemoryNetwork) Close() {
	n.broker.Shutdown()
}

func (n *MemoryNetwork) bind(addr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	n.listeners[addr] = struct{}{}
	return nil
}

func (n *MemoryNetwork) unbind(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, addr)
}

func (n *MemoryNetwork) NewPubSocket() (ListenSocket, error) {
	return &memPubSocket{net: n}, nil
}

func (n *MemoryNetwork) NewSubSocket() (SubscribeSocket, error) {
	return &memSubSocket{memRecv: memRecv{net: n}}, nil
}

func (n *MemoryNetwork) NewPushSocket() (DialSocket, error) {
	return &memPushSocket{net: n}, nil
}

func (n *MemoryNetwork) NewPullSocket() (ListenSocket, error) {
	return &memPullSocket{memRecv: memRecv{net: n}}, nil
}

var _ SocketFactory = (*MemoryNetwork)(nil)

func broadcastTopic(addr string) string { return "pub|" + addr }
func directTopic(addr string) string    { return "pull|" + addr }

// memRecv is the receiving half shared by SUB and PULL sockets
type memRecv struct {
	net    *MemoryNetwork
	mu     sync.Mutex
	sub    *pubsub.Subscription
	closed atomic.Bool
}

func (r *memRecv) attach(topic string) error {
	sub, err := r.net.broker.Subscribe(context.Background(), topic)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

func (r *memRecv) channel() <-chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	return r.sub.C()
}

func (r *memRecv) recv() ([]byte, error) {
	ch := r.channel()
	if ch == nil {
		return nil, fmt.Errorf("%w: socket not attached", ErrSocketClosed)
	}
	frame, ok := <-ch
	if !ok {
		return nil, ErrSocketClosed
	}
	return frame, nil
}

func (r *memRecv) close() {
	if r.closed.Swap(true) {
		return
	}
	r.mu.Lock()
	sub := r.sub
	r.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (r *memRecv) Send([]byte) error                   { return fmt.Errorf("memory: receive-only socket") }
func (r *memRecv) SetSendDeadline(time.Duration) error { return nil }

type memPubSocket struct {
	net    *MemoryNetwork
	addr   atomic.Pointer[string]
	closed atomic.Bool
}

func (s *memPubSocket) Listen(addr string) error {
	if err := s.net.bind(broadcastTopic(addr)); err != nil {
		return err
	}
	s.addr.Store(&addr)
	return nil
}

// Send publishes to current subscribers. Like real PUB, nobody listening is
// not an error.
func (s *memPubSocket) Send(data []byte) error {
	addr := s.addr.Load()
	if s.closed.Load() || addr == nil {
		return ErrSocketClosed
	}
	s.net.broker.Publish(broadcastTopic(*addr), bytes.Clone(data))
	return nil
}

func (s *memPubSocket) Recv() ([]byte, error)               { return nil, fmt.Errorf("memory: send-only socket") }
func (s *memPubSocket) SetSendDeadline(time.Duration) error { return nil }

func (s *memPubSocket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if addr := s.addr.Load(); addr != nil {
		s.net.unbind(broadcastTopic(*addr))
	}
	return nil
}

type memSubSocket struct {
	memRecv
	prefix atomic.Pointer[[]byte]
}

func (s *memSubSocket) Dial(addr string) error {
	return s.attach(broadcastTopic(addr))
}

func (s *memSubSocket) Subscribe(topic []byte) error {
	t := bytes.Clone(topic)
	s.prefix.Store(&t)
	return nil
}

// Recv returns the next frame matching the subscription prefix. A socket
// with no subscription receives nothing, as with real SUB sockets.
func (s *memSubSocket) Recv() ([]byte, error) {
	for {
		frame, err := s.recv()
		if err != nil {
			return nil, err
		}
		if p := s.prefix.Load(); p != nil && bytes.HasPrefix(frame, *p) {
			return frame, nil
		}
	}
}

func (s *memSubSocket) Close() error {
	s.close()
	return nil
}

type memPullSocket struct {
	memRecv
	addr atomic.Pointer[string]
}

func (s *memPullSocket) Listen(addr string) error {
	topic := directTopic(addr)
	if err := s.net.bind(topic); err != nil {
		return err
	}
	if err := s.attach(topic); err != nil {
		s.net.unbind(topic)
		return err
	}
	s.addr.Store(&addr)
	return nil
}

func (s *memPullSocket) Recv() ([]byte, error) {
	return s.recv()
}

func (s *memPullSocket) Close() error {
	if addr := s.addr.Load(); addr != nil && !s.closed.Load() {
		s.net.unbind(directTopic(*addr))
	}
	s.close()
	return nil
}

type memPushSocket struct {
	net    *MemoryNetwork
	addr   atomic.Pointer[string]
	closed atomic.Bool
}

func (s *memPushSocket) Dial(addr string) error {
	s.addr.Store(&addr)
	return nil
}

// Send fails when nothing listens at the dialed address, standing in for a
// real PUSH socket's send deadline expiring.
func (s *memPushSocket) Send(data []byte) error {
	addr := s.addr.Load()
	if s.closed.Load() || addr == nil {
		return ErrSocketClosed
	}
	if s.net.broker.Publish(directTopic(*addr), bytes.Clone(data)) == 0 {
		return fmt.Errorf("%w: %s", ErrNoListener, *addr)
	}
	return nil
}

func (s *memPushSocket) Recv() ([]byte, error)               { return nil, fmt.Errorf("memory: send-only socket") }
func (s *memPushSocket) SetSendDeadline(time.Duration) error { return nil }

func (s *memPushSocket) Close() error {
	s.closed.Store(true)
	return nil
}
