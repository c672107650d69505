package engine

import (
	"sentra/internal/errors"
	"sentra/internal/vmregister"
)

// StdExceptions is the default Exceptions collaborator, built on
// errors.SentraError. It has no isolate-level unwind
// machinery of its own — that belongs to whatever package owns the
// interpreter/call loop — so Throw/ReThrow/PropagateError just wrap the
// payload as a Go error for that loop to catch. CreateAndThrowTypeError
// is the one constructor runtime entries call directly.
type StdExceptions struct {
	// PreallocatedStackOverflow is reused on every overflow rather than
	// allocated fresh on the hot interrupt-poll path.
	PreallocatedStackOverflow *errors.SentraError
}

// NewStdExceptions builds a StdExceptions with its preallocated overflow
// error ready.
func NewStdExceptions() *StdExceptions {
	return &StdExceptions{PreallocatedStackOverflow: errors.NewStackOverflowError()}
}

func (s *StdExceptions) Throw(exception vmregister.Value) error {
	return &thrownValue{value: exception}
}

func (s *StdExceptions) ReThrow(exception vmregister.Value, stacktrace vmregister.Value) error {
	return &thrownValue{value: exception, stacktrace: stacktrace, rethrow: true}
}

func (s *StdExceptions) CreateAndThrowTypeError(loc TokenPosition, src, dst, name, boundMsg string) error {
	return errors.NewTypeError(errors.TypeErrorDetail{
		SourceType: src,
		DestType:   dst,
		DestName:   name,
		BoundMsg:   boundMsg,
	}, int(loc))
}

func (s *StdExceptions) PropagateError(err error) error {
	return err
}

// ThrowStackOverflow raises the preallocated overflow error.
func (s *StdExceptions) ThrowStackOverflow() error {
	return s.PreallocatedStackOverflow
}

// InvokeNonClosure raises the "not callable" error for an attempt to
// call a non-closure value. Kept as its own entry rather than folded
// into the generic exception bridge, since callers need to name the
// offending value's type in the message.
func (e *Engine) InvokeNonClosure(valueType string) error {
	return e.Collab.Exceptions.PropagateError(errors.NewNotClosureError(valueType))
}

// CheckResultError inspects the result of an invocation made through
// DartEntry (noSuchMethod dispatch, getter-then-call, closure
// invocation): if the invocation itself produced an error rather than a
// value, that error is propagated unwrapped rather than swallowed by the
// caller's normal-return path.
func (e *Engine) CheckResultError(result vmregister.Value, invokeErr error) (vmregister.Value, error) {
	if invokeErr != nil {
		return vmregister.NilValue(), e.Collab.Exceptions.PropagateError(invokeErr)
	}
	return result, nil
}

// thrownValue wraps a managed Value being thrown/rethrown so it can
// travel through Go's error-return plumbing without being mistaken for a
// compiler-internal error.
type thrownValue struct {
	value      vmregister.Value
	stacktrace vmregister.Value
	rethrow    bool
}

func (t *thrownValue) Error() string {
	if t.rethrow {
		return "rethrown exception: " + vmregister.ToString(t.value)
	}
	return "uncaught exception: " + vmregister.ToString(t.value)
}
