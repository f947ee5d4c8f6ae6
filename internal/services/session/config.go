package session

import (
	"fmt"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/handshake"
	"microratchet/internal/protocol/ratchet"
	"microratchet/internal/protocol/wire"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaximumMessageSize = 1024
	DefaultMinimumMessageSize = 64
	DefaultRatchetsToKeep     = ratchet.DefaultDepth

	// minimumFloor is the size of a frame carrying a DH key and the
	// shortest payload.
	minimumFloor = wire.MinFrameSize + domain.KeySize
)

// Config fixes the role and frame bounds of a session.
type Config struct {
	// ApplicationKey is the 32-byte pre-shared key protecting hello frames.
	ApplicationKey []byte

	MaximumMessageSize     int
	MinimumMessageSize     int
	NumberOfRatchetsToKeep int

	IsClient bool

	// RemotePublicKey, on a client, pins the server's long-term key.
	RemotePublicKey []byte
}

// WithDefaults returns c with zero fields replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.MaximumMessageSize == 0 {
		c.MaximumMessageSize = DefaultMaximumMessageSize
	}
	if c.MinimumMessageSize == 0 {
		c.MinimumMessageSize = DefaultMinimumMessageSize
	}
	if c.NumberOfRatchetsToKeep == 0 {
		c.NumberOfRatchetsToKeep = DefaultRatchetsToKeep
	}
	return c
}

// Validate checks that the bounds can carry every frame the protocol sends.
func (c Config) Validate() error {
	if len(c.ApplicationKey) != domain.KeySize {
		return fmt.Errorf("application key must be %d bytes, got %d", domain.KeySize, len(c.ApplicationKey))
	}
	if c.MinimumMessageSize < minimumFloor {
		return fmt.Errorf("%w: minimum message size %d is below %d",
			domain.ErrSizeViolation, c.MinimumMessageSize, minimumFloor)
	}
	if c.MaximumMessageSize < handshake.ServerHelloSize {
		return fmt.Errorf("%w: maximum message size %d is below %d",
			domain.ErrSizeViolation, c.MaximumMessageSize, handshake.ServerHelloSize)
	}
	if c.MinimumMessageSize > c.MaximumMessageSize {
		return fmt.Errorf("%w: minimum message size %d exceeds maximum %d",
			domain.ErrSizeViolation, c.MinimumMessageSize, c.MaximumMessageSize)
	}
	if c.NumberOfRatchetsToKeep < ratchet.MinDepth {
		return fmt.Errorf("ratchets to keep must be at least %d, got %d", ratchet.MinDepth, c.NumberOfRatchetsToKeep)
	}
	if c.RemotePublicKey != nil && len(c.RemotePublicKey) != domain.KeySize {
		return fmt.Errorf("remote public key must be %d bytes, got %d", domain.KeySize, len(c.RemotePublicKey))
	}
	return nil
}
