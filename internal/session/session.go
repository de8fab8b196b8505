package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Session holds all per-connection state: the audio buffer and the
// optional resume/job-description context. It is created when a client
// connects and released, via the registry, when the connection closes.
// Only the connection's own handler goroutine mutates it.
type Session struct {
	ID        string
	StartedAt time.Time

	Buffer      *AudioBuffer
	contextText string
}

func New(maxChunks, maxBytes int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Buffer:    NewAudioBuffer(maxChunks, maxBytes),
	}
}

// SetContext replaces the stored resume/job-description text. It
// persists across question/answer cycles until replaced or the session
// ends.
func (s *Session) SetContext(text string) {
	s.contextText = strings.TrimSpace(text)
}

func (s *Session) Context() string { return s.contextText }

// Registry tracks live sessions for visibility and metrics. Session
// state itself lives on the Session value; the registry never shares it
// across connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops the session unconditionally. Called on every disconnect,
// normal or abnormal, so short-lived connections cannot accumulate state.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
