package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: name=%q", ErrInvalidName, "a b"), codes.InvalidArgument},
		{fmt.Errorf("%w: type=resume", ErrInvalidType), codes.InvalidArgument},
		{fmt.Errorf("%w: budget=0", ErrInvalidBudget), codes.InvalidArgument},
		{fmt.Errorf("%w: fault type: %q", ErrUnknownIdentifier, "explode"), codes.InvalidArgument},
		{fmt.Errorf("%w: point=p state=set", ErrAlreadyArmed), codes.AlreadyExists},
		{fmt.Errorf("%w: capacity=1", ErrTableFull), codes.ResourceExhausted},
		{fmt.Errorf("%w: point=p", ErrNotSuspended), codes.FailedPrecondition},
		{fmt.Errorf("%w: point=p: %w", ErrCancelled, ErrInjectorClosed), codes.Aborted},
		{ErrInjectorClosed, codes.Unavailable},
	}
	for _, tt := range tests {
		st := toStatus(tt.err)
		assert.Equal(t, tt.code, status.Code(st), tt.err.Error())

		back := fromStatus(st)
		for _, we := range wireErrors {
			if errors.Is(tt.err, we.err) {
				assert.True(t, errors.Is(back, we.err), "%v lost %v", back, we.err)
				break
			}
		}
	}
}

func TestStatusContextErrors(t *testing.T) {
	t.Parallel()

	st := toStatus(fmt.Errorf("waiting: %w", context.DeadlineExceeded))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(st))
	assert.True(t, errors.Is(fromStatus(st), context.DeadlineExceeded))

	st = toStatus(context.Canceled)
	assert.Equal(t, codes.Canceled, status.Code(st))
	assert.True(t, errors.Is(fromStatus(st), context.Canceled))
}

func TestStatusOther(t *testing.T) {
	t.Parallel()

	assert.NoError(t, toStatus(nil))
	assert.NoError(t, fromStatus(nil))

	st := toStatus(errors.New("disk on fire"))
	assert.Equal(t, codes.Internal, status.Code(st))
	assert.Equal(t, st, fromStatus(st))

	plain := errors.New("not a status")
	assert.Equal(t, plain, fromStatus(plain))
}

func TestFullMethod(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/fault.Injector/Inject", fullMethod("Inject"))
	assert.Len(t, injectorServiceDesc.Methods, 6)
}
