package directory

import "sync"

// MemStore is an in-memory Store used by tests and by sessions that opt
// out of durable persistence.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]Entry
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]Entry)}
}

func (s *MemStore) Load(ownerID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.data[ownerID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemStore) Save(ownerID string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make([]Entry, len(entries))
	copy(saved, entries)
	s.data[ownerID] = saved
	return nil
}
