// Package domain defines the sizes, failure classes and collaborator
// contracts shared across the protocol layers. It contains plain types and
// interfaces only; the default implementations live in internal/crypto and
// internal/store.
package domain
