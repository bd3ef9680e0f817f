package trace

import "sync"

// InmemStore keeps the trace in a rolling window in memory. The window holds
// between size and 2*size records; older records are rolled out in chunks of
// size.
type InmemStore struct {
	sync.RWMutex
	size  int
	items []Record
}

// NewInmemStore ...
func NewInmemStore(size int) *InmemStore {
	if size < 1 {
		size = 1
	}
	return &InmemStore{
		size:  size,
		items: make([]Record, 0, 2*size),
	}
}

// Add implements the Store interface.
func (s *InmemStore) Add(r Record) error {
	s.Lock()
	defer s.Unlock()

	if len(s.items) >= 2*s.size {
		s.roll()
	}
	s.items = append(s.items, r)
	return nil
}

func (s *InmemStore) roll() {
	newList := make([]Record, 0, 2*s.size)
	newList = append(newList, s.items[s.size:]...)
	s.items = newList
}

// Last implements the Store interface.
func (s *InmemStore) Last(n int) ([]Record, error) {
	s.RLock()
	defer s.RUnlock()

	n = min(n, s.size, len(s.items))
	if n <= 0 {
		return []Record{}, nil
	}

	res := make([]Record, n)
	copy(res, s.items[len(s.items)-n:])
	return res, nil
}

// Len implements the Store interface.
func (s *InmemStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return min(len(s.items), s.size)
}

// Reset implements the Store interface.
func (s *InmemStore) Reset() error {
	s.Lock()
	defer s.Unlock()
	s.items = make([]Record, 0, 2*s.size)
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
