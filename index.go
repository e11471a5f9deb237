package fault

import (
	"fmt"
	"sort"
	"sync"
)

// pointIndex is an arena of fault point slots. A name is bound to
// a slot the first time it is used and keeps it for the life of
// the index, so slot ids are stable point identifiers. Only the
// name lookup takes the index lock, each slot has its own.
type pointIndex struct {
	mu    sync.RWMutex
	r     map[string]*slot
	slots []slot
	used  int
}

func newPointIndex(capacity int) *pointIndex {
	return &pointIndex{
		r:     make(map[string]*slot, capacity),
		slots: make([]slot, capacity),
	}
}

// Get retrieves the slot bound to name.
func (r *pointIndex) Get(name string) (s *slot, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, found = r.r[name]
	return
}

// Bind name to a slot, returning the existing slot if the
// name is already bound.
func (r *pointIndex) Bind(name string) (*slot, error) {
	if s, ok := r.Get(name); ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.r[name]; ok {
		return s, nil
	}
	if r.used == len(r.slots) {
		return nil, fmt.Errorf("%w: capacity=%d point=%s", ErrTableFull, len(r.slots), name)
	}
	s := &r.slots[r.used]
	s.id = r.used
	s.name = name
	r.r[name] = s
	r.used++
	return s, nil
}

// Size of the index, ie: the number of bound names.
func (r *pointIndex) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.used
}

// Cap of the index.
func (r *pointIndex) Cap() int {
	return len(r.slots)
}

// R returns the bound slots ordered by name.
func (r *pointIndex) R() []*slot {
	r.mu.RLock()
	out := make([]*slot, 0, r.used)
	for i := 0; i < r.used; i++ {
		out = append(out, &r.slots[i])
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}
