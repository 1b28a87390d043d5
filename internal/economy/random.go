package economy

import (
	mathrand "math/rand"
	"sync"
	"time"
)

// Source yields uniform samples in [0, 1).
type Source interface {
	Float64() float64
}

// LockedSource makes a *math/rand.Rand safe for concurrent transactions.
type LockedSource struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewSource(seed int64) *LockedSource {
	return &LockedSource{rand: mathrand.New(mathrand.NewSource(seed))}
}

func NewTimeSeededSource() *LockedSource {
	return NewSource(time.Now().UnixNano())
}

func (s *LockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// Sequence replays fixed samples in order and then repeats the last one.
type Sequence struct {
	mu      sync.Mutex
	samples []float64
	next    int
}

func NewSequence(samples ...float64) *Sequence {
	if len(samples) == 0 {
		samples = []float64{0.5}
	}
	return &Sequence{samples: samples}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.samples[s.next]
	if s.next < len(s.samples)-1 {
		s.next++
	}
	return v
}

// Draws reports how many samples have been consumed, capped at the sequence length.
func (s *Sequence) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
