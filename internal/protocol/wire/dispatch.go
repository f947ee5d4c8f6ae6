package wire

import (
	"fmt"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/ratchet"
)

// Match identifies the step whose header key authenticated a frame.
type Match struct {
	Age  int  // 0 is the newest step
	Next bool // matched the newest step's next receive header key
	Key  []byte
}

// Resolve finds the step a frame belongs to, newest first. For each step
// the current receive header key is tried, and for the newest step its next
// receive header key as well.
func (c Codec) Resolve(chain *ratchet.Chain, frame []byte) (Match, bool) {
	for age := 0; age < chain.Len(); age++ {
		s := chain.At(age)
		if s.CanReceive() && c.Authenticate(s.ReceiveHeaderKey, frame) {
			return Match{Age: age, Key: s.ReceiveHeaderKey}, true
		}
		if age == 0 && len(s.NextReceiveHeaderKey) > 0 && c.Authenticate(s.NextReceiveHeaderKey, frame) {
			return Match{Age: 0, Next: true, Key: s.NextReceiveHeaderKey}, true
		}
	}
	return Match{}, false
}

// SendPlan says which step a payload goes out on.
type SendPlan struct {
	Age       int
	IncludeDH bool
}

// PlanSend picks the step for a payload of n bytes: the newest step with
// its DH public key when the frame has room for it, otherwise the
// second-newest step without one.
func (c Codec) PlanSend(chain *ratchet.Chain, n int) (SendPlan, error) {
	newest := chain.Newest()
	if newest == nil || !newest.CanSend() {
		return SendPlan{}, fmt.Errorf("%w: no sending step", domain.ErrProtocolViolation)
	}
	if c.Fits(Header{PublicKey: make([]byte, domain.KeySize)}, n) {
		return SendPlan{Age: 0, IncludeDH: true}, nil
	}
	if !c.Fits(Header{}, n) {
		return SendPlan{}, fmt.Errorf("%w: payload of %d bytes exceeds maximum message size %d",
			domain.ErrSizeViolation, n, c.MaximumMessageSize)
	}
	if prev := chain.SecondNewest(); prev != nil && prev.CanSend() {
		return SendPlan{Age: 1}, nil
	}
	return SendPlan{}, fmt.Errorf("%w: payload of %d bytes needs a step without DH key", domain.ErrSizeViolation, n)
}
