package answer

import (
	"context"
	"sync"
)

// MockGenerator is a local fallback generator and a recording fake in
// tests. Errs are consumed one call at a time; once exhausted, Text is
// returned.
type MockGenerator struct {
	mu    sync.Mutex
	calls int

	Text string
	Errs []error
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Text: "I delivered a simulated answer with confidence."}
}

func (m *MockGenerator) Generate(_ context.Context, _ Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		if err != nil {
			return "", err
		}
	}
	return m.Text, nil
}

func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
