package registry

import (
	"context"
	"sync"

	"github.com/lighthouse-p2p/lighthouse/pkg/types"
)

// MemoryStore keeps all state in process. It is the default backend and
// the substrate for the file-backed one.
type MemoryStore struct {
	mu            sync.RWMutex
	registrations map[types.NodeID]Registration
	lookups       map[types.NodeID][]LookupRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registrations: make(map[types.NodeID]Registration),
		lookups:       make(map[types.NodeID][]LookupRecord),
	}
}

func (s *MemoryStore) PutRegistration(_ context.Context, reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations[reg.ID] = reg
	return nil
}

func (s *MemoryStore) GetRegistration(_ context.Context, id types.NodeID) (Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[id]
	if !ok {
		return Registration{}, ErrNotFound
	}
	return reg, nil
}

func (s *MemoryStore) AppendLookup(_ context.Context, rec LookupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups[rec.ID] = append(s.lookups[rec.ID], rec)
	return nil
}

func (s *MemoryStore) Lookups(_ context.Context, id types.NodeID) ([]LookupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.lookups[id]
	out := make([]LookupRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) Wipe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations = make(map[types.NodeID]Registration)
	s.lookups = make(map[types.NodeID][]LookupRecord)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// snapshot returns a copy of all state for persistence.
func (s *MemoryStore) snapshot() (map[types.NodeID]Registration, map[types.NodeID][]LookupRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regs := make(map[types.NodeID]Registration, len(s.registrations))
	for id, reg := range s.registrations {
		regs[id] = reg
	}

	lookups := make(map[types.NodeID][]LookupRecord, len(s.lookups))
	for id, recs := range s.lookups {
		cp := make([]LookupRecord, len(recs))
		copy(cp, recs)
		lookups[id] = cp
	}

	return regs, lookups
}

// restore replaces all state from a loaded snapshot.
func (s *MemoryStore) restore(regs map[types.NodeID]Registration, lookups map[types.NodeID][]LookupRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations = regs
	s.lookups = lookups
}
