package fabric

import (
	"io"
	"time"
)

// Socket is a message socket. The interface hides the transport (mangos,
// ZeroMQ or the in-process memory network) from the fabric.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetSendDeadline(d time.Duration) error
}

// ListenSocket binds to a local address
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket connects to a remote address. Dial must not fail just because
// the remote is not up yet: transports reconnect in the background.
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// SubscribeSocket is a SUB socket
type SubscribeSocket interface {
	DialSocket
	Subscribe(topic []byte) error
}

// SocketFactory creates the four socket kinds the fabric uses: PUB/SUB for
// broadcasts, PUSH/PULL for direct requests and their responses.
type SocketFactory interface {
	NewPubSocket() (ListenSocket, error)
	NewSubSocket() (SubscribeSocket, error)
	NewPushSocket() (DialSocket, error)
	NewPullSocket() (ListenSocket, error)
}

// Endpoints are the two addresses a peer listens on
type Endpoints struct {
	Broadcast string `json:"broadcast"`
	Direct    string `json:"direct"`
}
