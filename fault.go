// Package fault injects faults at named points of a running engine, so
// that tests can deterministically exercise recovery, concurrency and
// failure handling paths.
//
// A harness arms a fault point:
//
//	err := injector.Arm(fault.Fault{
//	    Name:   "checkpoint_start",
//	    Type:   fault.TypeError,
//	    Budget: 3,
//	})
//
// and engine code reaches it:
//
//	hit, err := injector.Reach(ctx, "checkpoint_start", fault.Scope{})
//	if err != nil {
//	    return err
//	}
//	if hit.Fired && hit.Type == fault.TypeError {
//	    return errInjected
//	}
//
// Reaching a point that is not armed is a single atomic load when no
// fault is armed anywhere in the injector.
package fault

import (
	"fmt"
	"time"
)

// Unlimited trigger budget, the fault fires until it is reset.
const Unlimited = -1

// Fault definition armed at a fault point.
type Fault struct {
	// Name of the fault point.
	Name string `json:"name" yaml:"name"`
	// Type of action taken when the point fires.
	Type Type `json:"type" yaml:"type"`
	// DDL restricts the fault to reaches made while executing
	// the statement kind, DDLNotSpecified matches any.
	DDL DDLStatement `json:"ddl,omitempty" yaml:"ddl,omitempty"`
	// Database and Table restrict the fault to reaches with the
	// same scope, empty matches any.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Table    string `json:"table,omitempty" yaml:"table,omitempty"`
	// StartOccurrence is the first matching reach that fires,
	// zero means the first one.
	StartOccurrence int `json:"start_occurrence,omitempty" yaml:"start_occurrence,omitempty"`
	// Budget is the number of times the fault fires before it
	// completes, or Unlimited.
	Budget int `json:"budget" yaml:"budget"`
	// Extra argument of the action, seconds for TypeSleep.
	Extra int `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// EndOccurrence is the last matching reach that fires, -1
// when the budget is unlimited.
func (f Fault) EndOccurrence() int {
	if f.Budget == Unlimited {
		return -1
	}
	start := f.StartOccurrence
	if start == 0 {
		start = 1
	}
	return start + f.Budget - 1
}

// validate the fault for arming. Nothing is mutated on failure.
func (f *Fault) validate() error {
	if !isNameValid(f.Name) {
		return fmt.Errorf("%w: name=%q", ErrInvalidName, f.Name)
	}
	if !Types.Valid(f.Type) || !f.Type.IsAction() {
		return fmt.Errorf("%w: type=%v is not an action", ErrInvalidType, f.Type)
	}
	if !DDLStatements.Valid(f.DDL) {
		return fmt.Errorf("%w: %v", ErrUnknownIdentifier, f.DDL)
	}
	if f.Budget < 1 && f.Budget != Unlimited {
		return fmt.Errorf("%w: budget=%d", ErrInvalidBudget, f.Budget)
	}
	if f.StartOccurrence < 0 {
		return fmt.Errorf("%w: start occurrence=%d", ErrInvalidBudget, f.StartOccurrence)
	}
	if f.StartOccurrence == 0 {
		f.StartOccurrence = 1
	}
	return nil
}

// matches returns true if a reach with scope s counts against
// the fault.
func (f *Fault) matches(s Scope) bool {
	if f.DDL != DDLNotSpecified && f.DDL != s.DDL {
		return false
	}
	if f.Database != "" && f.Database != s.Database {
		return false
	}
	if f.Table != "" && f.Table != s.Table {
		return false
	}
	return true
}

// Scope of a reach, matched against the filters of the armed fault.
type Scope struct {
	DDL      DDLStatement
	Database string
	Table    string
}

// Hit is the outcome of reaching a fault point.
type Hit struct {
	Point string
	Type  Type
	// Fired is true if the fault's action was taken.
	Fired bool
	// Occurrence is the count of matching reaches, including
	// this one.
	Occurrence int
	Extra      int
	// State of the point after the reach.
	State State
}

// Skip returns true if the call site should bypass the
// instrumented code path.
func (h Hit) Skip() bool {
	return h.Fired && h.Type == TypeSkip
}

// SleepDuration of a TypeSleep fault.
func (h Hit) SleepDuration() time.Duration {
	return time.Duration(h.Extra) * time.Second
}

// Snapshot of a fault point.
type Snapshot struct {
	Fault
	State State `json:"state"`
	// Hits is the number of matching reaches.
	Hits int `json:"hits"`
	// Triggered is the number of times the action fired.
	Triggered int `json:"triggered"`
	// Remaining budget, Unlimited when the fault never completes.
	Remaining int       `json:"remaining"`
	ArmID     string    `json:"arm_id,omitempty"`
	ArmedAt   time.Time `json:"armed_at,omitempty"`
}

// String of the snapshot in the status line format of the injector.
func (s Snapshot) String() string {
	return fmt.Sprintf("fault name:'%s' fault type:'%s' ddl statement:'%s' database name:'%s' table name:'%s' start occurrence:'%d' end occurrence:'%d' extra arg:'%d' fault injection state:'%s' num times hit:'%d'",
		s.Name, s.Type, s.DDL, s.Database, s.Table, s.StartOccurrence, s.EndOccurrence(), s.Extra, s.State, s.Hits)
}
