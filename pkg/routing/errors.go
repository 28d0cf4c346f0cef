package routing

import "errors"

var (
	ErrNoOwners = errors.New("routing requires an ownership router")
	ErrNoPeers  = errors.New("routing requires a peer registry")

	// ErrNoPeerAvailable means the owner's address or liveness could not be
	// established. Answered with 503 so the client retries.
	ErrNoPeerAvailable = errors.New("no peer available")
)
