package engine

import (
	"errors"
	"testing"

	"sentra/internal/vmregister"
)

func TestStdExceptionsThrowWrapsValue(t *testing.T) {
	exc := NewStdExceptions()
	err := exc.Throw(vmregister.BoxInt(7))
	if err == nil {
		t.Fatalf("expected Throw to always return a non-nil error")
	}
	tv, ok := err.(*thrownValue)
	if !ok {
		t.Fatalf("expected a *thrownValue, got %T", err)
	}
	if vmregister.ToInt(tv.value) != 7 {
		t.Errorf("thrown value = %v, want 7", tv.value)
	}
}

func TestStdExceptionsReThrowCarriesStacktrace(t *testing.T) {
	exc := NewStdExceptions()
	err := exc.ReThrow(vmregister.BoxInt(1), vmregister.BoxInt(2))
	tv, ok := err.(*thrownValue)
	if !ok {
		t.Fatalf("expected a *thrownValue, got %T", err)
	}
	if !tv.rethrow {
		t.Errorf("expected rethrow to be flagged")
	}
	if vmregister.ToInt(tv.stacktrace) != 2 {
		t.Errorf("stacktrace = %v, want 2", tv.stacktrace)
	}
}

func TestStdExceptionsPropagateErrorPassesThrough(t *testing.T) {
	exc := NewStdExceptions()
	original := errors.New("boom")
	if got := exc.PropagateError(original); got != original {
		t.Errorf("expected PropagateError to pass the error through unwrapped")
	}
}

func TestStdExceptionsThrowStackOverflowReusesInstance(t *testing.T) {
	exc := NewStdExceptions()
	first := exc.ThrowStackOverflow()
	second := exc.ThrowStackOverflow()
	if first != second {
		t.Errorf("expected ThrowStackOverflow to reuse the same preallocated instance")
	}
}

func TestInvokeNonClosureNamesType(t *testing.T) {
	e := testExceptionsEngine()
	err := e.InvokeNonClosure("int")
	if err == nil {
		t.Fatalf("expected an error for invoking a non-closure")
	}
}

func TestCheckResultErrorPropagatesInvocationFailure(t *testing.T) {
	e := testExceptionsEngine()
	original := errors.New("invocation failed")
	_, err := e.CheckResultError(vmregister.NilValue(), original)
	if err == nil {
		t.Fatalf("expected the invocation error to propagate")
	}
}

func TestCheckResultErrorPassesThroughOnSuccess(t *testing.T) {
	e := testExceptionsEngine()
	got, err := e.CheckResultError(vmregister.BoxInt(9), nil)
	if err != nil {
		t.Fatalf("CheckResultError: %v", err)
	}
	if vmregister.ToInt(got) != 9 {
		t.Errorf("expected the original result value to pass through, got %v", got)
	}
}

func TestThrownValueErrorMessageDistinguishesRethrow(t *testing.T) {
	exc := NewStdExceptions()
	thrown := exc.Throw(vmregister.BoxInt(3))
	rethrown := exc.ReThrow(vmregister.BoxInt(3), vmregister.NilValue())

	if thrown.Error() == rethrown.Error() {
		t.Errorf("expected a throw and a rethrow of the same value to report different messages")
	}
}
