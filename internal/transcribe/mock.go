package transcribe

import (
	"context"
	"sync"
)

// MockTranscriber is a local fallback transcriber used when no speech
// provider is configured, and a recording fake in tests.
type MockTranscriber struct {
	mu    sync.Mutex
	calls int

	Text string
	Err  error
}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{Text: "simulated transcription"}
}

func (m *MockTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
