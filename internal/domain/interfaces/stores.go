package interfaces

// Storage holds the persisted session state of one conversation.
type Storage interface {
	// Load returns the stored state, or nil when nothing was stored yet.
	Load() ([]byte, error)
	// Store replaces the stored state.
	Store(state []byte) error
}
