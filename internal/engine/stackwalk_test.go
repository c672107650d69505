package engine

import (
	"testing"

	"sentra/internal/vmregister"
)

func TestStackWalkerDoneOnNilFrame(t *testing.T) {
	w := NewStackWalker(nil)
	if !w.Done() {
		t.Fatalf("expected Done() to be true for a nil starting frame")
	}
	if w.PC() != -1 {
		t.Errorf("PC() on an exhausted walker = %d, want -1", w.PC())
	}
	if w.Code() != nil || w.Function() != nil {
		t.Errorf("Code()/Function() on an exhausted walker should be nil")
	}
}

func TestStackWalkerAdvancesThroughCallers(t *testing.T) {
	code := vmregister.NewUnoptimizedCode(nil, nil)
	fn := &vmregister.FunctionObj{Name: "top"}
	bottom := &vmregister.CallFrame{Function: fn, Code: code, PC: 1}
	middle := &vmregister.CallFrame{Code: code, PC: 2, Caller: bottom} // stub frame, no Function
	top := &vmregister.CallFrame{Function: fn, Code: code, PC: 3, Caller: middle}

	w := NewStackWalker(top)
	if w.Done() {
		t.Fatalf("expected a fresh walker over a non-nil frame to not be done")
	}
	if w.PC() != 3 {
		t.Errorf("PC() = %d, want 3", w.PC())
	}
	w.Next()
	if w.Frame() != middle {
		t.Fatalf("expected Next() to advance to the caller frame")
	}
	w.Next()
	if w.Frame() != bottom {
		t.Fatalf("expected a second Next() to reach the bottom frame")
	}
	w.Next()
	if !w.Done() {
		t.Fatalf("expected the walker to be done past the bottom frame")
	}
}

func TestStackWalkerFindFirstManagedCallerSkipsStubFrames(t *testing.T) {
	fn := &vmregister.FunctionObj{Name: "caller"}
	managed := &vmregister.CallFrame{Function: fn}
	stub := &vmregister.CallFrame{Caller: managed} // no Function: a stub/entry frame
	top := &vmregister.CallFrame{Caller: stub}

	w := NewStackWalker(top)
	got := w.FindFirstManagedCaller()
	if got != managed {
		t.Fatalf("expected FindFirstManagedCaller to skip stub frames and reach the managed one")
	}
}

func TestStackWalkerFindFirstManagedCallerNoneFound(t *testing.T) {
	top := &vmregister.CallFrame{Caller: &vmregister.CallFrame{}}
	w := NewStackWalker(top)
	if got := w.FindFirstManagedCaller(); got != nil {
		t.Fatalf("expected nil when no frame in the chain has a Function")
	}
}

func TestStackWalkerFramesCollectsEntireChain(t *testing.T) {
	bottom := &vmregister.CallFrame{PC: 1}
	middle := &vmregister.CallFrame{PC: 2, Caller: bottom}
	top := &vmregister.CallFrame{PC: 3, Caller: middle}

	frames := NewStackWalker(top).Frames()
	if len(frames) != 3 {
		t.Fatalf("Frames() returned %d frames, want 3", len(frames))
	}
	if frames[0] != top || frames[1] != middle || frames[2] != bottom {
		t.Errorf("Frames() returned frames out of order")
	}
}
