package rules

import (
	"slices"
	"sync/atomic"
)

var emptySet = func() *Set {
	s, _ := NewSet()
	return s
}()

// A Store holds the current rule Set. Readers always
// get a complete snapshot, and Swap replaces it atomically.
// The zero value is ready to use and holds an empty set with
// the allow posture.
type Store struct {
	current atomic.Pointer[Set]
}

// NewStore returns a new *Store initialized with the given set.
// If set is nil, an empty set with the allow posture is used.
func NewStore(set *Set) *Store {

	if set == nil {
		set = emptySet
	}

	s := &Store{}
	s.current.Store(set)

	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Set {

	if set := s.current.Load(); set != nil {
		return set
	}

	return emptySet
}

// Swap publishes the given set and returns the previous one.
// Swapping a nil set is a no-op.
func (s *Store) Swap(set *Set) *Set {

	if set == nil {
		return s.Load()
	}

	if old := s.current.Swap(set); old != nil {
		return old
	}

	return emptySet
}

// Lookup returns the names forbidden to the given identity entry only,
// without the Wildcard entry.
func (s *Store) Lookup(identity string) []string {

	ns := s.Load().forbidden[identity]
	out := make([]string, 0, len(ns))
	for n := range ns {
		out = append(out, n)
	}
	slices.Sort(out)

	return out
}

// LookupWildcard returns the names forbidden to every identity.
func (s *Store) LookupWildcard() []string {
	return s.Lookup(Wildcard)
}
