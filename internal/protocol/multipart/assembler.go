package multipart

import (
	"fmt"

	"microratchet/internal/domain"
)

// Defaults for New.
const (
	DefaultFragmentCapacity = 1024
	DefaultMaxBytes         = 64 << 10
	DefaultMaxAge           = 16
)

type pending struct {
	total     int
	fragments map[int][]byte
	reserved  int
	created   uint64
}

// Assembler collects fragments into payloads under a global byte budget.
// It is not safe for concurrent use.
type Assembler struct {
	capacity int
	maxBytes int
	maxAge   uint64

	now      uint64
	used     int
	sets     map[uint16]*pending
	arrivals []uint16 // sequence ids, oldest first
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFragmentCapacity sets the maximum data bytes per fragment.
func WithFragmentCapacity(n int) Option { return func(a *Assembler) { a.capacity = n } }

// WithMaxBytes sets the budget shared by every in-flight payload.
func WithMaxBytes(n int) Option { return func(a *Assembler) { a.maxBytes = n } }

// WithMaxAge sets how many ticks an incomplete payload survives.
func WithMaxAge(ticks int) Option { return func(a *Assembler) { a.maxAge = uint64(ticks) } }

// New returns an empty Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		capacity: DefaultFragmentCapacity,
		maxBytes: DefaultMaxBytes,
		maxAge:   DefaultMaxAge,
		sets:     make(map[uint16]*pending),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Capacity returns the maximum data bytes per fragment.
func (a *Assembler) Capacity() int { return a.capacity }

// Pending returns the number of incomplete payloads.
func (a *Assembler) Pending() int { return len(a.sets) }

// Used returns the reserved bytes.
func (a *Assembler) Used() int { return a.used }

// IngestFragment is Ingest for a decoded fragment.
func (a *Assembler) IngestFragment(f Fragment) ([]byte, error) {
	return a.Ingest(f.Data, f.Sequence, int(f.Index), int(f.Total))
}

// Ingest stores one fragment. It returns the reassembled payload once every
// index of the sequence has arrived and nil before that.
func (a *Assembler) Ingest(fragment []byte, sequence uint16, index, total int) ([]byte, error) {
	if total <= 0 || total > MaxFragments || index < 0 || index >= total {
		return nil, fmt.Errorf("%w: fragment %d of %d", domain.ErrProtocolViolation, index, total)
	}
	if len(fragment) > a.capacity {
		return nil, fmt.Errorf("%w: fragment of %d bytes exceeds capacity %d", domain.ErrSizeViolation, len(fragment), a.capacity)
	}

	p, ok := a.sets[sequence]
	if ok && p.total != total {
		return nil, fmt.Errorf("%w: sequence %d declared %d fragments, now %d", domain.ErrProtocolViolation, sequence, p.total, total)
	}
	if !ok {
		reserve := total * a.capacity
		if reserve > a.maxBytes {
			return nil, fmt.Errorf("%w: sequence %d needs %d bytes, budget is %d", domain.ErrSizeViolation, sequence, reserve, a.maxBytes)
		}
		for a.maxBytes-a.used < reserve && len(a.arrivals) > 0 {
			a.evict(a.arrivals[0])
		}
		p = &pending{total: total, fragments: make(map[int][]byte, total), reserved: reserve, created: a.now}
		a.sets[sequence] = p
		a.arrivals = append(a.arrivals, sequence)
		a.used += reserve
	}

	if _, dup := p.fragments[index]; !dup {
		p.fragments[index] = append([]byte(nil), fragment...)
	}
	if len(p.fragments) < p.total {
		return nil, nil
	}

	var size int
	for _, b := range p.fragments {
		size += len(b)
	}
	out := make([]byte, 0, size)
	for i := 0; i < p.total; i++ {
		out = append(out, p.fragments[i]...)
	}
	a.evict(sequence)
	return out, nil
}

// Tick advances the clock by one and drops every payload that has been
// incomplete for the maximum age. It returns the number dropped.
func (a *Assembler) Tick() int {
	a.now++
	var expired []uint16
	for _, seq := range a.arrivals {
		if a.now-a.sets[seq].created >= a.maxAge {
			expired = append(expired, seq)
		}
	}
	for _, seq := range expired {
		a.evict(seq)
	}
	return len(expired)
}

func (a *Assembler) evict(sequence uint16) {
	p, ok := a.sets[sequence]
	if !ok {
		return
	}
	a.used -= p.reserved
	delete(a.sets, sequence)
	for i, s := range a.arrivals {
		if s == sequence {
			a.arrivals = append(a.arrivals[:i], a.arrivals[i+1:]...)
			break
		}
	}
}
