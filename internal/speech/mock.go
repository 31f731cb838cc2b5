package speech

import (
	"context"
	"sync"
)

// MockEngine is a deterministic Engine for tests and for running without
// any voice backend. Each sentence produces a fixed-size PCM block.
type MockEngine struct {
	mu        sync.Mutex
	Sentences []string
	// FailAfter, when > 0, fails the Nth Speak call (1-based).
	FailAfter int
	// Err is returned when FailAfter triggers.
	Err   error
	calls int

	SampleRate    int
	BytesPerCall  int
	PhonemeMarker string
}

func NewMockEngine() *MockEngine {
	return &MockEngine{SampleRate: 16000, BytesPerCall: 64}
}

func (m *MockEngine) Speak(_ context.Context, text string) (Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.Sentences = append(m.Sentences, text)

	if m.FailAfter > 0 && m.calls >= m.FailAfter && m.Err != nil {
		return Fragment{}, m.Err
	}

	size := m.BytesPerCall
	if size <= 0 {
		size = 64
	}
	pcm := make([]byte, size)
	for i := range pcm {
		pcm[i] = byte(m.calls)
	}

	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	return Fragment{
		Graphemes:  text,
		Phonemes:   m.PhonemeMarker,
		PCM:        pcm,
		SampleRate: rate,
	}, nil
}

func (m *MockEngine) Close() error { return nil }

// Calls reports how many sentences were synthesized.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
