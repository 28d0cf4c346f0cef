package fabric

import (
	"errors"
	"fmt"
)

var (
	// Lifecycle
	ErrNotRunning     = errors.New("fabric is not running")
	ErrAlreadyRunning = errors.New("fabric is already running")

	// Calls
	ErrCallTimeout = errors.New("direct call timed out")
	ErrUnknownPeer = errors.New("no connection to peer")
	ErrNoHandler   = errors.New("no handler for message type")

	// Transport
	ErrSocketClosed  = errors.New("socket closed")
	ErrNoListener    = errors.New("no listener at address")
	ErrAddressInUse  = errors.New("address already in use")
	ErrInvalidConfig = errors.New("invalid fabric configuration")
	ErrMalformed     = errors.New("malformed envelope")
)

// RemoteError is returned by Call when the remote handler failed
type RemoteError struct {
	PeerID  string
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer %s failed %s: %s", e.PeerID, e.Type, e.Message)
}
