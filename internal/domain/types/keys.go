package types

// Sizes shared by every layer of the protocol. The core only assumes these
// sizes, never a specific algorithm.
const (
	// KeySize is the size of public keys, private keys, chain keys, root
	// keys and header keys.
	KeySize = 32

	// BlockSize is the block size of the block cipher collaborator.
	BlockSize = 16

	// MessageKeySize is the size of a per-message payload key.
	MessageKeySize = 16

	// NonceSize is the size of handshake nonces.
	NonceSize = 16

	// SignatureSize is the size of a long-term signature.
	SignatureSize = 64

	// MacSize is the size of the truncated authentication tag on every frame.
	MacSize = 12
)

// Role fixes which side of the handshake a session plays.
type Role byte

const (
	RoleServer Role = iota
	RoleClient
)

// String returns the string form of the role.
func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// RoleFor returns RoleClient when isClient is set and RoleServer otherwise.
func RoleFor(isClient bool) Role {
	if isClient {
		return RoleClient
	}
	return RoleServer
}
