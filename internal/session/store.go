package session

import (
	"sync"
)

// Store maps session ids to live sessions.
type Store interface {
	Put(s *Session)
	Get(id string) (*Session, bool)
	// Delete removes id and reports whether it was present.
	Delete(id string) bool
	List() []*Session
	Len() int
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	sessions sync.Map // map[string]*Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Put(s *Session) {
	m.sessions.Store(s.ID, s)
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

func (m *MemoryStore) Delete(id string) bool {
	_, loaded := m.sessions.LoadAndDelete(id)
	return loaded
}

func (m *MemoryStore) List() []*Session {
	var sessions []*Session
	m.sessions.Range(func(_, value any) bool {
		sessions = append(sessions, value.(*Session))
		return true
	})
	return sessions
}

func (m *MemoryStore) Len() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
