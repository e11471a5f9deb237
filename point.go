package fault

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// slot holding the runtime state of one fault point. The name is
// bound once and never changes, every other field is protected by mu.
// The state is also published in an atomic so that status readers
// and the reach fast path never take the lock.
type slot struct {
	id    int
	name  string
	state atomic.Uint32

	mu        sync.Mutex
	gen       uint64
	resets    uint64
	fault     Fault
	armID     string
	armedAt   time.Time
	hits      int
	triggered int
	remaining int
	gate      *gate
	// suspended is the number of workers blocked on gate, resumed
	// is set by a Resume that found none.
	suspended int
	resumed   bool
	changed   chan struct{}
}

func (s *slot) load() State {
	return State(s.state.Load())
}

// setLocked the state, returning +1 or -1 if the point became
// active or inactive, and 0 otherwise.
func (s *slot) setLocked(to State) int {
	from := s.load()
	s.state.Store(uint32(to))
	switch {
	case !from.Active() && to.Active():
		return 1
	case from.Active() && !to.Active():
		return -1
	}
	return 0
}

// notifyLocked wakes every waiter watching the point.
func (s *slot) notifyLocked() {
	if s.changed != nil {
		close(s.changed)
	}
	s.changed = make(chan struct{})
}

// arm the point with the validated fault f.
func (s *slot) arm(f Fault, armID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.load(); st != StateNotInitialized {
		return 0, fmt.Errorf("%w: point=%s state=%v", ErrAlreadyArmed, s.name, st)
	}
	s.gen++
	s.fault = f
	s.armID = armID
	s.armedAt = now
	s.hits = 0
	s.triggered = 0
	s.remaining = f.Budget
	s.suspended = 0
	s.resumed = false
	if f.Type == TypeSuspend {
		s.gate = newGate()
	}
	s.notifyLocked()
	return s.setLocked(StateWaiting), nil
}

// reach the point with scope. The returned hit reports if the action
// should be taken, in which case gen identifies the arming that fired
// and g is the gate to suspend on for TypeSuspend faults. The counter
// update and state transition happen exactly once per call.
func (s *slot) reach(scope Scope) (hit Hit, gen uint64, g *gate, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hit = Hit{Point: s.name, State: s.load()}
	if !hit.State.Active() || !s.fault.matches(scope) {
		return hit, 0, nil, 0
	}
	s.hits++
	hit.Type = s.fault.Type
	hit.Extra = s.fault.Extra
	hit.Occurrence = s.hits
	if s.hits < s.fault.StartOccurrence {
		return hit, 0, nil, 0
	}

	to := StateTriggered
	if s.remaining != Unlimited {
		s.remaining--
		if s.remaining == 0 {
			to = StateCompleted
		}
	}
	s.triggered++
	delta = s.setLocked(to)
	s.notifyLocked()

	hit.Fired = true
	hit.State = to
	if s.gate == nil {
		return hit, s.gen, nil, delta
	}
	if s.resumed {
		s.resumed = false
		return hit, s.gen, nil, delta
	}
	s.suspended++
	return hit, s.gen, s.gate, delta
}

// unsuspend a worker that stopped waiting on g without it being
// released.
func (s *slot) unsuspend(g *gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == g && s.suspended > 0 {
		s.suspended--
	}
}

// fail the arming gen of the point. A point that was reset or armed
// again since gen fired is left alone.
func (s *slot) fail(gen uint64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.load() == StateNotInitialized {
		return 0, false
	}
	delta := s.setLocked(StateFailed)
	s.notifyLocked()
	return delta, true
}

// reset the point, releasing suspended workers with err.
func (s *slot) reset(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gate != nil {
		s.gate.release(err)
		s.gate = nil
	}
	s.suspended = 0
	s.resumed = false
	wasArmed := s.load() != StateNotInitialized
	s.fault = Fault{}
	s.armID = ""
	s.armedAt = time.Time{}
	s.hits = 0
	s.triggered = 0
	s.remaining = 0
	if wasArmed {
		s.resets++
	}
	s.notifyLocked()
	return s.setLocked(StateNotInitialized)
}

// resume the workers currently suspended at the point. Workers that
// reach the point later, while budget remains, suspend again. When no
// worker is suspended yet the resume is kept, and the next worker to
// fire the point goes through without blocking.
func (s *slot) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.load() == StateNotInitialized || s.fault.Type != TypeSuspend || s.gate == nil {
		return fmt.Errorf("%w: point=%s", ErrNotSuspended, s.name)
	}
	if s.suspended == 0 {
		if !s.load().Active() {
			return fmt.Errorf("%w: point=%s state=%v", ErrNotSuspended, s.name, s.load())
		}
		s.resumed = true
		return nil
	}
	s.gate.release(nil)
	s.gate = newGate()
	s.suspended = 0
	return nil
}

// watch returns the triggered count, the reset count and a channel
// closed on the next change of the point.
func (s *slot) watch() (int, uint64, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changed == nil {
		s.changed = make(chan struct{})
	}
	return s.triggered, s.resets, s.changed
}

// snapshot of the point.
func (s *slot) snapshot() Snapshot {
	if s.load() == StateNotInitialized {
		return Snapshot{Fault: Fault{Name: s.name}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.fault
	f.Name = s.name
	return Snapshot{
		Fault:     f,
		State:     s.load(),
		Hits:      s.hits,
		Triggered: s.triggered,
		Remaining: s.remaining,
		ArmID:     s.armID,
		ArmedAt:   s.armedAt,
	}
}
