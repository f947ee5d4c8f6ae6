package ratchet

// DefaultDepth is the number of steps a Chain keeps.
const DefaultDepth = 7

// MinDepth is the smallest usable depth: the newest step and the one
// before it are both needed to send.
const MinDepth = 2

// Chain is the ordered list of ratchet steps, oldest first.
type Chain struct {
	steps []*Step
	depth int
}

// NewChain returns an empty chain that keeps at most depth steps.
func NewChain(depth int) *Chain {
	if depth < MinDepth {
		depth = MinDepth
	}
	return &Chain{depth: depth}
}

// RestoreChain rebuilds a chain from persisted steps without applying any
// retirement rule. steps must be ordered oldest first.
func RestoreChain(depth int, steps []*Step) *Chain {
	c := NewChain(depth)
	c.steps = steps
	return c
}

// Len returns the number of steps held.
func (c *Chain) Len() int { return len(c.steps) }

// Depth returns the configured capacity.
func (c *Chain) Depth() int { return c.depth }

// At returns the step of the given age; age 0 is the newest. It returns nil
// when age is out of range.
func (c *Chain) At(age int) *Step {
	i := len(c.steps) - 1 - age
	if age < 0 || i < 0 {
		return nil
	}
	return c.steps[i]
}

// Newest returns the most recent step or nil.
func (c *Chain) Newest() *Step { return c.At(0) }

// SecondNewest returns the step before the newest or nil.
func (c *Chain) SecondNewest() *Step { return c.At(1) }

// Steps returns the held steps, oldest first. The slice aliases the chain.
func (c *Chain) Steps() []*Step { return c.steps }

// Append adds steps in order. For each one the previous newest step loses
// its transients, the step that becomes third-newest loses its sending
// side, and the oldest steps beyond depth are wiped and dropped. A step
// left with neither side is dropped too.
func (c *Chain) Append(steps ...*Step) {
	for _, s := range steps {
		if prev := c.Newest(); prev != nil {
			prev.retireTransients()
		}
		c.steps = append(c.steps, s)

		if n := len(c.steps); n >= 3 {
			third := c.steps[n-3]
			third.retireSending()
			if !third.CanReceive() {
				third.Zero()
				c.steps = append(c.steps[:n-3], c.steps[n-2:]...)
			}
		}
		for len(c.steps) > c.depth {
			c.steps[0].Zero()
			c.steps[0] = nil
			c.steps = c.steps[1:]
		}
	}
}

// LostKeys returns the number of lost keys cached across all steps.
func (c *Chain) LostKeys() int {
	var n int
	for _, s := range c.steps {
		if s.Receiving != nil {
			n += s.Receiving.lostCount()
		}
	}
	return n
}

// TrimLostKeys evicts cached lost keys until at most max remain, taking
// the lowest generations of the oldest steps first. It returns how many
// keys were evicted.
func (c *Chain) TrimLostKeys(max int) int {
	excess := c.LostKeys() - max
	evicted := 0
	for _, s := range c.steps {
		for evicted < excess && s.Receiving != nil && s.Receiving.EvictOldest() {
			evicted++
		}
	}
	return evicted
}

// Reset wipes and drops every step.
func (c *Chain) Reset() {
	for _, s := range c.steps {
		s.Zero()
	}
	c.steps = nil
}
