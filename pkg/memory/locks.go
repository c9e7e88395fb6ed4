package memory

import "sync"

// shardLocks is a lazily-populated per-key mutex map, the same pattern
// pkg/session's MemStore uses for per-session append serialization,
// generalized here to per-record granularity so concurrent Store calls
// against different record ids never block each other. Clear does not take
// these locks.
type shardLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newShardLocks() *shardLocks {
	return &shardLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *shardLocks) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
