package session

import (
	"errors"
	"fmt"
)

// Lifecycle errors
var (
	ErrAlreadyRunning = errors.New("session manager already running")
	ErrNoLoader       = errors.New("session manager: graph loader is required")
	ErrNoOwnership    = errors.New("session manager: ownership router is required")

	errReleasing = errors.New("graph claim release in progress")
)

// Fatal protocol errors close the connection
var (
	ErrBatchTooLarge = errors.New("batch exceeds the instruction limit")
)

// Request errors are answered with a negative acknowledgment
var (
	ErrNotRegistered      = errors.New("connection is not registered on a sheet")
	ErrNotOwner           = errors.New("graph is not owned by this peer")
	ErrEmptyBatch         = errors.New("batch contains no instructions")
	ErrNoTarget           = errors.New("instruction must set exactly one of nodeId or edgeId")
	ErrNodeNotFound       = errors.New("node not found")
	ErrEdgeNotFound       = errors.New("edge not found")
	ErrIdentifierMismatch = errors.New("targeted identifier does not match")
)

// BatchError names the instruction that stopped a batch
type BatchError struct {
	Index  int    // zero-based position in the batch
	Target string // "node n1" or "edge e1"
	Err    error
}

func (e *BatchError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("instruction %d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("instruction %d (%s): %v", e.Index+1, e.Target, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IsFatal reports whether err must close the client connection
func IsFatal(err error) bool {
	return errors.Is(err, ErrBatchTooLarge)
}
