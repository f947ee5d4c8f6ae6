package state

import (
	"bytes"

	"microratchet/internal/domain"
)

// Summary describes a stored state without exposing key material.
type Summary struct {
	IsClient    bool
	Established bool
	Pending     bool
	Steps       int
	LostKeys    int
	Bytes       int
}

// Summarize decodes raw and reports its shape.
func Summarize(raw []byte, f domain.KeyAgreementFactory) (Summary, error) {
	s, err := Load(bytes.NewReader(raw), f, 0)
	if err != nil {
		return Summary{}, err
	}
	defer s.Zero()

	sum := Summary{
		IsClient:    s.IsClient,
		Established: s.Established,
		Pending:     s.Ephemeral != nil || s.Pending != nil,
		Steps:       s.Chain.Len(),
		Bytes:       len(raw),
	}
	for _, st := range s.Chain.Steps() {
		if st.Receiving != nil {
			sum.LostKeys += len(st.Receiving.LostKeys())
		}
	}
	return sum, nil
}
