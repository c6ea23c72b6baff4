package session

// Sequencer detects lost messages from the per-peer sequence Index.
// It never buffers or reorders: any mismatch is reported as a loss and the
// expectation is resynchronized to the observed value.
type Sequencer struct {
	expected uint32
}

// Expected returns the next Index the sequencer expects.
func (s *Sequencer) Expected() uint32 { return s.expected }

// Observe records index and reports whether it did not match the expectation.
// Stale and duplicate indexes are reported as loss as well, so that a gap is
// never counted twice.
func (s *Sequencer) Observe(index uint32) (lost bool) {
	lost = index != s.expected
	s.expected = index + 1
	return lost
}

// Reset clears the expectation.
func (s *Sequencer) Reset() { s.expected = 0 }
