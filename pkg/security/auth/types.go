package auth

import "errors"

// Key is a configured operator key.
type Key struct {
	Name    string
	Secret  string
	Enabled bool
}

// KeyInfo identifies the operator behind an accepted key.
type KeyInfo struct {
	Name string
}

// KeyStore validates operator keys.
type KeyStore interface {
	Validate(secret string) (*KeyInfo, error)
	Len() int
}

var (
	// ErrMissingKey means the request carried no operator key.
	ErrMissingKey = errors.New("operator key missing")

	// ErrInvalidKey means the presented key matches no configured key.
	ErrInvalidKey = errors.New("invalid operator key")

	// ErrKeyDisabled means the presented key is configured but disabled.
	ErrKeyDisabled = errors.New("operator key disabled")
)
