package fault

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default injector for call sites that do not carry one.
var Default = MustNewInjector(InjectorCfg{})

// Reach the named fault point of the Default injector.
func Reach(ctx context.Context, name string) (Hit, error) {
	return Default.Reach(ctx, name, Scope{})
}

// Injector owns the table of fault points of a process. It is safe
// for use by any number of goroutines: engine workers reaching
// points, and the harness arming, resetting and querying them.
type Injector struct {
	cfg     InjectorCfg
	points  *pointIndex
	actions *actionRegistry
	metrics *metrics
	// armed is the number of points in StateWaiting or
	// StateTriggered, when zero every reach is a no-op.
	armed  atomic.Int64
	closed atomic.Bool
	done   chan struct{}
	stop   sync.Once
	now    func() time.Time
	// testHookWatching is called once WaitUntilTriggered watches
	// the point.
	testHookWatching func(name string)
}

// NewInjector with the given configuration.
func NewInjector(cfg InjectorCfg) (*Injector, error) {
	setInjectorCfgDefaults(&cfg)
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("%w: capacity=%d", ErrInvalidConfig, cfg.Capacity)
	}
	if cfg.SuspendTimeout < 0 {
		return nil, fmt.Errorf("%w: suspend timeout=%v", ErrInvalidConfig, cfg.SuspendTimeout)
	}
	return &Injector{
		cfg:     cfg,
		points:  newPointIndex(cfg.Capacity),
		actions: newActionRegistry(),
		metrics: newMetrics(cfg.Registerer),
		done:    make(chan struct{}),
		now:     time.Now,
	}, nil
}

// MustNewInjector is like NewInjector but panics on error.
func MustNewInjector(cfg InjectorCfg) *Injector {
	in, err := NewInjector(cfg)
	if err != nil {
		panic(err)
	}
	return in
}

// SetAction performed when a point armed with type t fires. A nil
// action removes the current one. Types without an action fire
// without side effects, the call site inspects the returned Hit.
func (in *Injector) SetAction(t Type, a Action) error {
	if !t.IsAction() {
		return fmt.Errorf("%w: type=%v is not an action", ErrInvalidType, t)
	}
	in.actions.Set(t, a)
	return nil
}

// Arm the fault point f.Name. The point must be in StateNotInitialized,
// a completed or failed point has to be reset first. The fault is
// validated before anything is changed.
func (in *Injector) Arm(f Fault) error {
	if in.closed.Load() {
		return ErrInjectorClosed
	}
	if err := f.validate(); err != nil {
		return err
	}
	s, err := in.points.Bind(f.Name)
	if err != nil {
		return err
	}
	armID := uuid.New().String()
	delta, err := s.arm(f, armID, in.now())
	if err != nil {
		return err
	}
	in.armedDelta(delta)
	in.logf("fault: armed: %v, type: %v, budget: %v, arm id: %v", f.Name, f.Type, f.Budget, armID)
	return nil
}

// Reach the named fault point. Engine code calls Reach each time
// execution passes the point. If the point is armed, active and its
// filters match scope, the action of its type is taken and the point
// advances towards completion.
//
// For points armed with TypeSuspend the call blocks until the point
// is resumed, in which case it returns nil, or until it is reset,
// the injector closed, ctx done or the suspend timeout elapses, in
// which case it returns ErrCancelled.
func (in *Injector) Reach(ctx context.Context, name string, scope Scope) (Hit, error) {
	if in.armed.Load() == 0 {
		return Hit{Point: name}, nil
	}
	s, ok := in.points.Get(name)
	if !ok {
		return Hit{Point: name}, nil
	}
	if !s.load().Active() {
		return Hit{Point: name, State: s.load()}, nil
	}

	hit, gen, g, delta := s.reach(scope)
	in.armedDelta(delta)
	in.metrics.hit(hit)
	if !hit.Fired {
		return hit, nil
	}

	if act, ok := in.actions.Get(hit.Type); ok {
		if err := act(ctx, hit); err != nil {
			if g != nil {
				s.unsuspend(g)
			}
			if delta, ok := s.fail(gen); ok {
				in.armedDelta(delta)
				hit.State = StateFailed
			}
			in.metrics.fail(name)
			in.logf("fault: %v: %v action failed: %v", name, hit.Type, err)
			return hit, fmt.Errorf("%w: point=%s type=%v: %w", ErrActionFailed, name, hit.Type, err)
		}
	}

	if hit.Type == TypeSuspend && g != nil {
		return hit, in.suspend(ctx, s, g)
	}
	return hit, nil
}

// suspend the calling worker on gate g of slot s.
func (in *Injector) suspend(ctx context.Context, s *slot, g *gate) error {
	name := s.name
	defer s.unsuspend(g)
	timer := time.NewTimer(in.cfg.SuspendTimeout)
	defer timer.Stop()

	in.logf("fault: %v: suspended", name)
	select {
	case <-g.C():
		return g.Err()
	case <-ctx.Done():
		return fmt.Errorf("%w: point=%s: %w", ErrCancelled, name, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: point=%s: suspended longer than %v", ErrCancelled, name, in.cfg.SuspendTimeout)
	case <-in.done:
		return fmt.Errorf("%w: point=%s: %w", ErrCancelled, name, ErrInjectorClosed)
	}
}

// Status of the named point. Points never armed report
// StateNotInitialized.
func (in *Injector) Status(name string) Snapshot {
	s, ok := in.points.Get(name)
	if !ok {
		return Snapshot{Fault: Fault{Name: name}}
	}
	return s.snapshot()
}

// List the status of every point known to the injector, ordered
// by name.
func (in *Injector) List() []Snapshot {
	slots := in.points.R()
	out := make([]Snapshot, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.snapshot())
	}
	return out
}

// Reset the named point to StateNotInitialized, discarding its
// remaining budget. Workers suspended at the point return
// ErrCancelled. Resetting a point that is not armed does nothing.
func (in *Injector) Reset(name string) error {
	if !isNameValid(name) {
		return fmt.Errorf("%w: name=%q", ErrInvalidName, name)
	}
	s, ok := in.points.Get(name)
	if !ok {
		return nil
	}
	if s.load() == StateNotInitialized {
		return nil
	}
	in.armedDelta(s.reset(fmt.Errorf("%w: point=%s: reset", ErrCancelled, name)))
	in.logf("fault: reset: %v", name)
	return nil
}

// Resume the workers currently suspended at the named point. If the
// point is armed and no worker is suspended at it yet, the next
// worker to fire it is not suspended.
func (in *Injector) Resume(name string) error {
	if !isNameValid(name) {
		return fmt.Errorf("%w: name=%q", ErrInvalidName, name)
	}
	s, ok := in.points.Get(name)
	if !ok {
		return fmt.Errorf("%w: point=%s", ErrNotSuspended, name)
	}
	if err := s.resume(); err != nil {
		return err
	}
	in.logf("fault: resumed: %v", name)
	return nil
}

// WaitUntilTriggered blocks until the named point has fired at least
// n times since it was armed. A point reset while waiting returns
// ErrCancelled.
func (in *Injector) WaitUntilTriggered(ctx context.Context, name string, n int) error {
	if !isNameValid(name) {
		return fmt.Errorf("%w: name=%q", ErrInvalidName, name)
	}
	if n < 1 {
		n = 1
	}
	s, err := in.points.Bind(name)
	if err != nil {
		return err
	}

	_, resets, _ := s.watch()
	if in.testHookWatching != nil {
		in.testHookWatching(name)
	}
	for {
		triggered, r, changed := s.watch()
		if r != resets {
			return fmt.Errorf("%w: point=%s: reset while waiting", ErrCancelled, name)
		}
		if triggered >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-in.done:
			return fmt.Errorf("%w: point=%s: %w", ErrCancelled, name, ErrInjectorClosed)
		}
	}
}

// Inject runs a single request against the injector, dispatching on
// its type: action types arm the point, TypeReset, TypeResume and
// TypeStatus run the matching operation and TypeWaitUntilTriggered
// waits for the point to fire f.Budget times. The status of the
// point after the request is returned.
func (in *Injector) Inject(ctx context.Context, f Fault) (Snapshot, error) {
	var err error
	switch {
	case f.Type.IsAction():
		err = in.Arm(f)
	case f.Type == TypeReset:
		err = in.Reset(f.Name)
	case f.Type == TypeResume:
		err = in.Resume(f.Name)
	case f.Type == TypeStatus:
		if !isNameValid(f.Name) {
			err = fmt.Errorf("%w: name=%q", ErrInvalidName, f.Name)
		}
	case f.Type == TypeWaitUntilTriggered:
		err = in.WaitUntilTriggered(ctx, f.Name, f.Budget)
	default:
		err = fmt.Errorf("%w: type=%v", ErrInvalidType, f.Type)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return in.Status(f.Name), nil
}

// Close the injector, resetting every point. Suspended workers and
// waiting harnesses return ErrCancelled, and no point can be armed
// afterwards.
func (in *Injector) Close() error {
	in.stop.Do(func() {
		in.closed.Store(true)
		close(in.done)
		for _, s := range in.points.R() {
			in.armedDelta(s.reset(fmt.Errorf("%w: point=%s: %w", ErrCancelled, s.name, ErrInjectorClosed)))
		}
		in.logf("fault: injector closed")
	})
	return nil
}

// Armed is the number of points waiting or triggered.
func (in *Injector) Armed() int {
	return int(in.armed.Load())
}

func (in *Injector) armedDelta(delta int) {
	if delta == 0 {
		return
	}
	in.armed.Add(int64(delta))
	in.metrics.armedDelta(delta)
}

func (in *Injector) logf(format string, v ...interface{}) {
	if in.cfg.Logger != nil {
		in.cfg.Logger.Printf(format, v...)
	}
}
