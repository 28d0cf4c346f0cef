package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidPeerID    = errors.New("peer ID cannot be empty")
	ErrInvalidPeerHost  = errors.New("peer host cannot be empty")
	ErrNoHeartbeatStore = errors.New("heartbeat store is required")
)

// Lifecycle errors
var (
	ErrAlreadyRunning = errors.New("peer registry already running")
)

// Membership errors
var (
	ErrPeerNotFound = errors.New("peer not found")
)
