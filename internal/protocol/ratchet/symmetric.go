package ratchet

import (
	"errors"
	"fmt"
	"sort"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/kdf"
	"microratchet/internal/util/memzero"
)

const (
	// MaxGeneration is the largest generation a 31-bit header can carry.
	MaxGeneration = 1<<31 - 1

	// DefaultMaxLostKeys bounds the per-chain lost-key cache.
	DefaultMaxLostKeys = 64
)

var (
	errChainUninitialised = errors.New("ratchet chain key is uninitialised")

	chainContext = []byte("microratchet|chain")
)

// LostKey is a message key derived during a forward skip and not yet used.
type LostKey struct {
	Generation uint32
	Key        []byte
}

// SymmetricChain is one direction of a hash ratchet.
//
// Generation counts the message keys already produced; the first message
// key has generation 1. ChainKey only ever moves forward.
type SymmetricChain struct {
	Generation uint32
	ChainKey   []byte

	// MaxLostKeys bounds the lost-key cache; zero means DefaultMaxLostKeys.
	MaxLostKeys int

	lost map[uint32][]byte
}

// NewSymmetricChain returns a chain positioned at generation with chainKey.
func NewSymmetricChain(chainKey []byte, generation uint32) *SymmetricChain {
	return &SymmetricChain{Generation: generation, ChainKey: chainKey}
}

// RatchetForSending advances exactly one generation and returns the
// message key with its generation.
func (c *SymmetricChain) RatchetForSending(d domain.Digest) ([]byte, uint32, error) {
	if len(c.ChainKey) == 0 {
		return nil, 0, errChainUninitialised
	}
	if c.Generation >= MaxGeneration {
		return nil, 0, fmt.Errorf("%w: sending generation overflow", domain.ErrKeyExhausted)
	}
	next, mk, err := stepChain(d, c.ChainKey)
	if err != nil {
		return nil, 0, err
	}
	memzero.Zero(c.ChainKey)
	c.ChainKey = next
	c.Generation++
	return mk, c.Generation, nil
}

// RatchetForReceiving returns the message key of target.
//
// A cached key is returned once and evicted. A target ahead of the chain is
// reached step by step, caching the skipped keys. A target at or behind the
// chain that is not cached is rejected with domain.ErrKeyExhausted and the
// chain is left unchanged. Only the MaxLostKeys generations just below
// target are cached on a skip; keys skipped past that bound are discarded
// for good.
func (c *SymmetricChain) RatchetForReceiving(d domain.Digest, target uint32) ([]byte, error) {
	if target == 0 || target > MaxGeneration {
		return nil, fmt.Errorf("%w: generation %d out of range", domain.ErrKeyExhausted, target)
	}
	if mk, ok := c.lost[target]; ok {
		delete(c.lost, target)
		return mk, nil
	}
	if target <= c.Generation {
		return nil, fmt.Errorf("%w: generation %d already consumed", domain.ErrKeyExhausted, target)
	}
	if len(c.ChainKey) == 0 {
		return nil, errChainUninitialised
	}

	limit := uint32(c.maxLost())
	ck := append([]byte(nil), c.ChainKey...)
	var skipped []LostKey
	var mk []byte
	for gen := c.Generation + 1; ; gen++ {
		next, key, err := stepChain(d, ck)
		memzero.Zero(ck)
		if err != nil {
			for _, lk := range skipped {
				memzero.Zero(lk.Key)
			}
			return nil, err
		}
		ck = next
		if gen == target {
			mk = key
			break
		}
		if target-gen <= limit {
			skipped = append(skipped, LostKey{Generation: gen, Key: key})
		} else {
			memzero.Zero(key)
		}
	}

	memzero.Zero(c.ChainKey)
	c.ChainKey = ck
	c.Generation = target
	for _, lk := range skipped {
		c.cache(lk.Generation, lk.Key)
	}
	return mk, nil
}

// EvictOldest drops the cached key with the smallest generation. It
// reports whether anything was evicted.
func (c *SymmetricChain) EvictOldest() bool {
	if len(c.lost) == 0 {
		return false
	}
	first := true
	var oldest uint32
	for gen := range c.lost {
		if first || gen < oldest {
			oldest, first = gen, false
		}
	}
	memzero.Zero(c.lost[oldest])
	delete(c.lost, oldest)
	return true
}

// LostKeys returns the cached keys ordered by generation.
func (c *SymmetricChain) LostKeys() []LostKey {
	out := make([]LostKey, 0, len(c.lost))
	for gen, key := range c.lost {
		out = append(out, LostKey{Generation: gen, Key: key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out
}

func (c *SymmetricChain) lostCount() int { return len(c.lost) }

// RestoreLostKey puts a persisted lost key back into the cache.
func (c *SymmetricChain) RestoreLostKey(generation uint32, key []byte) {
	c.cache(generation, key)
}

// Zero wipes the chain key and every cached key.
func (c *SymmetricChain) Zero() {
	memzero.Zero(c.ChainKey)
	for gen, key := range c.lost {
		memzero.Zero(key)
		delete(c.lost, gen)
	}
}

func (c *SymmetricChain) cache(generation uint32, key []byte) {
	if c.lost == nil {
		c.lost = make(map[uint32][]byte)
	}
	if old, ok := c.lost[generation]; ok {
		memzero.Zero(old)
	}
	c.lost[generation] = key
	for len(c.lost) > c.maxLost() {
		c.EvictOldest()
	}
}

func (c *SymmetricChain) maxLost() int {
	if c.MaxLostKeys > 0 {
		return c.MaxLostKeys
	}
	return DefaultMaxLostKeys
}

// stepChain derives 48 bytes from the chain key: 32 for the next chain key,
// 16 for the message key.
func stepChain(d domain.Digest, ck []byte) (nextCK, mk []byte, err error) {
	out, err := kdf.Derive(d, ck, chainContext, domain.KeySize+domain.MessageKeySize)
	if err != nil {
		return nil, nil, err
	}
	parts := kdf.Split(out, domain.KeySize, domain.MessageKeySize)
	memzero.Zero(out)
	return parts[0], parts[1], nil
}
