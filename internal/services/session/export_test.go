package session

import "microratchet/internal/protocol/ratchet"

// Chain exposes the ratchet chain to tests.
func (s *Session) Chain() *ratchet.Chain { return s.st.Chain }
