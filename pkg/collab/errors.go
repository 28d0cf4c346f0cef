package collab

import "errors"

var (
	// ErrMalformedFrame is returned for frames that are not a JSON object
	// with a type. The connection is closed.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType is answered with a negative acknowledgment
	ErrUnknownType = errors.New("unknown frame type")

	// Outbound errors
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")

	ErrNoSessions = errors.New("collab handler requires a session manager")
)
