package engine

import (
	"testing"

	"sentra/internal/vmregister"
)

func TestArgumentsArgAtAndCount(t *testing.T) {
	args := NewArguments([]vmregister.Value{vmregister.BoxInt(1), vmregister.BoxInt(2)})
	if args.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", args.Count())
	}
	if vmregister.ToInt(args.ArgAt(0)) != 1 || vmregister.ToInt(args.ArgAt(1)) != 2 {
		t.Errorf("ArgAt returned unexpected values")
	}
	if !vmregister.IsNil(args.ArgAt(5)) {
		t.Errorf("ArgAt out of range should return nil, not panic")
	}
	if !vmregister.IsNil(args.ArgAt(-1)) {
		t.Errorf("ArgAt with a negative index should return nil, not panic")
	}
}

func TestArgumentsSetReturnAndReturn(t *testing.T) {
	args := NewArguments(nil)
	args.SetReturn(vmregister.BoxInt(42))
	if vmregister.ToInt(args.Return()) != 42 {
		t.Errorf("Return() = %v, want 42", vmregister.ToInt(args.Return()))
	}
}
