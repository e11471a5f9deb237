package fault

import (
	"errors"

	"github.com/lytics/fault/symtab"
)

// ErrUnknownIdentifier is returned when a display string is not one of
// the closed set of a domain.
var ErrUnknownIdentifier = symtab.ErrUnknownIdentifier

var (
	ErrInvalidName    = errors.New("fault: invalid name")
	ErrInvalidType    = errors.New("fault: invalid type")
	ErrInvalidBudget  = errors.New("fault: invalid trigger budget")
	ErrInvalidConfig  = errors.New("fault: invalid config")
	ErrAlreadyArmed   = errors.New("fault: already armed")
	ErrTableFull      = errors.New("fault: fault point table full")
	ErrNotSuspended   = errors.New("fault: not suspended")
	ErrInjectorClosed = errors.New("fault: injector closed")
)

var (
	ErrActionFailed = errors.New("fault: action failed")
	ErrCancelled    = errors.New("fault: cancelled")
)

var (
	ErrNilInjector      = errors.New("fault: nil injector")
	ErrNilEtcd          = errors.New("fault: nil etcd")
	ErrInvalidNamespace = errors.New("fault: invalid namespace")
	ErrServerNotRunning = errors.New("fault: server not running")
	ErrUnknownInjector  = errors.New("fault: unknown injector")
)
