//go:build zmq
// +build zmq

package fabric

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// pollInterval bounds how long Recv sleeps between non-blocking reads.
// ZeroMQ sockets are not safe for concurrent use, so Recv never blocks while
// holding the socket lock.
const pollInterval = 2 * time.Millisecond

type zmqSocket struct {
	mu     sync.Mutex
	sock   *zmq.Socket
	closed atomic.Bool
}

func newZMQSocket(t zmq.Type) (*zmqSocket, error) {
	sock, err := zmq.NewSocket(t)
	if err != nil {
		return nil, err
	}
	// do not block Close on undelivered frames
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (s *zmqSocket) Send(data []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sock.SendBytes(data, 0)
	return err
}

func (s *zmqSocket) Recv() ([]byte, error) {
	for {
		if s.closed.Load() {
			return nil, ErrSocketClosed
		}
		s.mu.Lock()
		data, err := s.sock.RecvBytes(zmq.DONTWAIT)
		s.mu.Unlock()
		if err == nil {
			return data, nil
		}
		if zmq.AsErrno(err) != zmq.Errno(syscall.EAGAIN) {
			if s.closed.Load() {
				return nil, ErrSocketClosed
			}
			return nil, err
		}
		time.Sleep(pollInterval)
	}
}

func (s *zmqSocket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Close()
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.SetSndtimeo(d)
}

func (s *zmqSocket) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Bind(addr)
}

// Dial is asynchronous in ZeroMQ already
func (s *zmqSocket) Dial(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Connect(addr)
}

type zmqSubSocket struct {
	*zmqSocket
}

func (s *zmqSubSocket) Subscribe(topic []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.SetSubscribe(string(topic))
}

// ZMQSocketFactory creates ZeroMQ sockets. Built only with -tags zmq since
// it needs libzmq through cgo.
type ZMQSocketFactory struct{}

// NewZMQSocketFactory creates a ZeroMQ socket factory
func NewZMQSocketFactory() *ZMQSocketFactory {
	return &ZMQSocketFactory{}
}

func (f *ZMQSocketFactory) NewPubSocket() (ListenSocket, error) {
	return newZMQSocket(zmq.PUB)
}

func (f *ZMQSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	s, err := newZMQSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	return &zmqSubSocket{s}, nil
}

func (f *ZMQSocketFactory) NewPushSocket() (DialSocket, error) {
	return newZMQSocket(zmq.PUSH)
}

func (f *ZMQSocketFactory) NewPullSocket() (ListenSocket, error) {
	return newZMQSocket(zmq.PULL)
}

var _ SocketFactory = (*ZMQSocketFactory)(nil)

func init() {
	registerFactory("zmq", func() SocketFactory { return NewZMQSocketFactory() })
}
