package fault

import (
	"context"
	"sync"
)

// Action performed when a fault point fires. Actions are supplied by
// the engine integration, one per Type, and run on the goroutine that
// reached the point, after the point's state has been updated. An
// error moves the point to StateFailed and is returned to the caller
// of Reach wrapped in ErrActionFailed.
type Action func(ctx context.Context, hit Hit) error

// actionRegistry is a collection of actions by fault type.
type actionRegistry struct {
	mu sync.RWMutex
	r  map[Type]Action
}

func newActionRegistry() *actionRegistry {
	return &actionRegistry{
		r: make(map[Type]Action),
	}
}

// Get retrieves the action.
func (r *actionRegistry) Get(t Type) (a Action, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, found = r.r[t]
	return
}

// Set the action, a nil action removes it.
func (r *actionRegistry) Set(t Type, a Action) (update bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, update = r.r[t]
	if a == nil {
		delete(r.r, t)
		return
	}
	r.r[t] = a
	return
}
