package domain

import "errors"

// Failure classes surfaced by every operation. Call sites wrap these with
// context; match them with errors.Is.
var (
	// ErrAuthentication means no candidate key validated the frame's tag.
	ErrAuthentication = errors.New("authentication failure")

	// ErrProtocolViolation means the frame does not fit the current
	// handshake phase or role.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrKeyExhausted means the requested generation was already consumed
	// or fell out of the lost-key cache.
	ErrKeyExhausted = errors.New("message key exhausted")

	// ErrSizeViolation means a payload or the configured frame bounds
	// cannot be accommodated.
	ErrSizeViolation = errors.New("size violation")

	// ErrReplay means a handshake nonce and public key pair repeated.
	ErrReplay = errors.New("replay detected")

	// ErrCorruptState means a loaded state failed a structural invariant.
	ErrCorruptState = errors.New("corrupt state")
)
