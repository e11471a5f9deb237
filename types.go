package fault

import (
	"fmt"

	"github.com/lytics/fault/symtab"
)

// Type of a fault, ie: the action taken when the fault point is reached.
type Type uint8

const (
	TypeNotSpecified Type = iota
	TypeSleep
	TypeFatal
	TypePanic
	TypeError
	TypeInfiniteLoop
	TypeSuspend
	TypeResume
	TypeSkip
	TypeReset
	TypeStatus
	TypeSegv
	TypeInterrupt
	TypeWaitUntilTriggered
	numTypes
)

// Types is the one definition of fault type display strings.
var Types = symtab.Define[Type]("fault type", []string{
	TypeNotSpecified:       "",
	TypeSleep:              "sleep",
	TypeFatal:              "fatal",
	TypePanic:              "panic",
	TypeError:              "error",
	TypeInfiniteLoop:       "infinite_loop",
	TypeSuspend:            "suspend",
	TypeResume:             "resume",
	TypeSkip:               "skip",
	TypeReset:              "reset",
	TypeStatus:             "status",
	TypeSegv:               "segv",
	TypeInterrupt:          "interrupt",
	TypeWaitUntilTriggered: "wait_until_triggered",
})

// ParseType from its display string.
func ParseType(s string) (Type, error) {
	return Types.Parse(s)
}

func (t Type) String() string {
	return Types.String(t)
}

// IsAction returns true for types that can be armed at a fault point.
// The remaining types are commands issued by the harness against an
// already armed point, or NotSpecified.
func (t Type) IsAction() bool {
	switch t {
	case TypeSleep, TypeFatal, TypePanic, TypeError, TypeInfiniteLoop,
		TypeSuspend, TypeSkip, TypeSegv, TypeInterrupt:
		return true
	}
	return false
}

// IsControl returns true for harness commands.
func (t Type) IsControl() bool {
	switch t {
	case TypeResume, TypeReset, TypeStatus, TypeWaitUntilTriggered:
		return true
	}
	return false
}

// Crashes returns true for types whose action deliberately terminates
// the process.
func (t Type) Crashes() bool {
	return t == TypeFatal || t == TypePanic || t == TypeSegv
}

func (t Type) MarshalText() ([]byte, error) {
	if !Types.Valid(t) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIdentifier, t)
	}
	return []byte(Types.String(t)), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := Types.Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t *Type) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}

// DDLStatement a fault point may be scoped to.
type DDLStatement uint8

const (
	DDLNotSpecified DDLStatement = iota
	DDLCreateDatabase
	DDLDropDatabase
	DDLCreateTable
	DDLDropTable
	DDLCreateIndex
	DDLAlterIndex
	DDLReIndex
	DDLDropIndex
	DDLCreateTablespaces
	DDLDropTablespaces
	DDLTruncate
	DDLVacuum
	numDDLStatements
)

// DDLStatements is the one definition of DDL statement display strings.
var DDLStatements = symtab.Define[DDLStatement]("ddl statement", []string{
	DDLNotSpecified:      "",
	DDLCreateDatabase:    "create_database",
	DDLDropDatabase:      "drop_database",
	DDLCreateTable:       "create_table",
	DDLDropTable:         "drop_table",
	DDLCreateIndex:       "create_index",
	DDLAlterIndex:        "alter_index",
	DDLReIndex:           "reindex",
	DDLDropIndex:         "drop_index",
	DDLCreateTablespaces: "create_tablespaces",
	DDLDropTablespaces:   "drop_tablespaces",
	DDLTruncate:          "truncate",
	DDLVacuum:            "vacuum",
})

// ParseDDLStatement from its display string.
func ParseDDLStatement(s string) (DDLStatement, error) {
	return DDLStatements.Parse(s)
}

func (d DDLStatement) String() string {
	return DDLStatements.String(d)
}

func (d DDLStatement) MarshalText() ([]byte, error) {
	if !DDLStatements.Valid(d) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIdentifier, d)
	}
	return []byte(DDLStatements.String(d)), nil
}

func (d *DDLStatement) UnmarshalText(b []byte) error {
	v, err := DDLStatements.Parse(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d *DDLStatement) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// State of a fault point in its lifecycle.
type State uint8

const (
	// StateNotInitialized no fault is armed at the point.
	StateNotInitialized State = iota
	// StateWaiting the fault is armed but has not fired yet.
	StateWaiting
	// StateTriggered the point was reached and the action taken.
	StateTriggered
	// StateCompleted the trigger budget is exhausted, the action
	// will no longer be taken.
	StateCompleted
	// StateFailed the fault could not be injected.
	StateFailed
	numStates
)

// States is the one definition of fault state display strings.
var States = symtab.Define[State]("fault state", []string{
	StateNotInitialized: "not initialized",
	StateWaiting:        "set",
	StateTriggered:      "triggered",
	StateCompleted:      "completed",
	StateFailed:         "failed",
})

// ParseState from its display string.
func ParseState(s string) (State, error) {
	return States.Parse(s)
}

func (s State) String() string {
	return States.String(s)
}

// Active returns true if reaching a point in this state may fire.
func (s State) Active() bool {
	return s == StateWaiting || s == StateTriggered
}

func (s State) MarshalText() ([]byte, error) {
	if !States.Valid(s) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIdentifier, s)
	}
	return []byte(States.String(s)), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := States.Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
