package ownership

import "errors"

var (
	ErrNoClaimStore     = errors.New("ownership: claim store is required")
	ErrInvalidPeerID    = errors.New("ownership: peer ID cannot be empty")
	ErrUnknownNamespace = errors.New("ownership: unknown namespace")
	ErrEmptyKey         = errors.New("ownership: resource key cannot be empty")
	ErrInvalidKey       = errors.New("ownership: invalid resource key")
)
