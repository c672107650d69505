package objectmodel

import (
	"testing"

	"sentra/internal/engine"
	"sentra/internal/vmregister"
)

func TestCanonicalizeDedupesStructurallyEqualVectors(t *testing.T) {
	m := New()
	args := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidInt, vmregister.CidString}}

	first, err := m.Canonicalize(args)
	if err != nil {
		t.Fatalf("first Canonicalize: %v", err)
	}
	second, err := m.Canonicalize(vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidInt, vmregister.CidString}})
	if err != nil {
		t.Fatalf("second Canonicalize: %v", err)
	}
	if len(first.Flat) != len(second.Flat) {
		t.Fatalf("expected structurally equal vectors to canonicalize to the same shape")
	}
	if len(m.canonical) != 1 {
		t.Errorf("expected the table to hold one entry for two equal vectors, got %d", len(m.canonical))
	}
}

func TestCanonicalizeAddsDistinctShapes(t *testing.T) {
	m := New()
	m.Canonicalize(vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidInt}})
	m.Canonicalize(vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidString}})
	if len(m.canonical) != 2 {
		t.Errorf("expected two distinct canonical entries, got %d", len(m.canonical))
	}
}

func TestInstantiateFromReturnsFlatArgsUnchanged(t *testing.T) {
	m := New()
	flat := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidInt}}
	got, err := m.InstantiateFrom(flat, vmregister.TypeArgs{})
	if err != nil {
		t.Fatalf("InstantiateFrom: %v", err)
	}
	if len(got.Flat) != 1 || got.Flat[0] != vmregister.CidInt {
		t.Errorf("expected a flat TypeArgs to pass through unchanged, got %+v", got)
	}
}

func TestInstantiateFromResolvesLazyAgainstInstantiator(t *testing.T) {
	m := New()
	// An Uninstantiated free type parameter with no Instantiator attached
	// canonicalizes to itself, leaving StillLazy true, so InstantiateFrom
	// must fall back to the instantiator argument directly.
	lazy := vmregister.TypeArgs{Kind: vmregister.TypeArgsLazy, Uninstantiated: []vmregister.ClassID{vmregister.FirstFreeTypeParam}}
	instantiator := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidString}}

	got, err := m.InstantiateFrom(lazy, instantiator)
	if err != nil {
		t.Fatalf("InstantiateFrom: %v", err)
	}
	if len(got.Flat) != 1 || got.Flat[0] != vmregister.CidString {
		t.Errorf("expected a lazy TypeArgs to resolve to the instantiator, got %+v", got)
	}
}

func TestIsInstanceOfWalksParentChain(t *testing.T) {
	m := New()
	base := &vmregister.ClassObj{Name: "Base", ID: 5001}
	derived := &vmregister.ClassObj{Name: "Derived", ID: 5002, Parent: base}
	instance := vmregister.NewInstance(derived)

	typ := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{base.ID}}
	ok, err := m.IsInstanceOf(instance, typ, vmregister.TypeArgs{})
	if err != nil {
		t.Fatalf("IsInstanceOf: %v", err)
	}
	if !ok {
		t.Errorf("expected a derived instance to satisfy an ancestor type test")
	}
}

func TestIsInstanceOfFalseForUnrelatedClass(t *testing.T) {
	m := New()
	a := &vmregister.ClassObj{Name: "A", ID: 6001}
	b := &vmregister.ClassObj{Name: "B", ID: 6002}
	instance := vmregister.NewInstance(a)

	typ := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{b.ID}}
	ok, err := m.IsInstanceOf(instance, typ, vmregister.TypeArgs{})
	if err != nil {
		t.Fatalf("IsInstanceOf: %v", err)
	}
	if ok {
		t.Errorf("expected no relation between unrelated classes to report false")
	}
}

func TestIsInstanceOfNonInstanceValueIsFalse(t *testing.T) {
	m := New()
	typ := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidInt}}
	ok, err := m.IsInstanceOf(vmregister.BoxInt(1), typ, vmregister.TypeArgs{})
	if err != nil {
		t.Fatalf("IsInstanceOf: %v", err)
	}
	if ok {
		t.Errorf("expected a boxed int (not an Instance) to never satisfy IsInstanceOf")
	}
}

func TestIsInstanceOfEmptyTypeIsFalse(t *testing.T) {
	m := New()
	class := &vmregister.ClassObj{Name: "Thing", ID: 7001}
	instance := vmregister.NewInstance(class)
	ok, err := m.IsInstanceOf(instance, vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat}, vmregister.TypeArgs{})
	if err != nil {
		t.Fatalf("IsInstanceOf: %v", err)
	}
	if ok {
		t.Errorf("expected an empty type vector to never match")
	}
}

func TestGetInvocationDispatcherNilWhenNoFieldOrNoSuchMethodDeclared(t *testing.T) {
	m := New()
	class := &vmregister.ClassObj{Name: "Thing"}
	if got := m.GetInvocationDispatcher(class, "foo", vmregister.ArgsDescriptor{}, engine.DispatcherInvokeField); got != nil {
		t.Errorf("expected no getter-then-call dispatcher when the class declares no such field")
	}
	if got := m.GetInvocationDispatcher(class, "foo", vmregister.ArgsDescriptor{}, engine.DispatcherNoSuchMethod); got != nil {
		t.Errorf("expected no noSuchMethod dispatcher when the class declares none")
	}
}

func TestGetInvocationDispatcherInvokeFieldCallsWhateverClosureTheReceiverHolds(t *testing.T) {
	m := New()
	class := &vmregister.ClassObj{Name: "Thing", Properties: map[string]vmregister.Value{"greeter": vmregister.NilValue()}}

	target := vmregister.NewFunction("inner", 0, nil, nil, func(f *vmregister.CallFrame, a []vmregister.Value) (vmregister.Value, error) {
		return vmregister.BoxInt(9), nil
	})

	receiver := vmregister.NewInstance(class)
	vmregister.AsInstance(receiver).Fields["greeter"] = target

	fn := m.GetInvocationDispatcher(class, "greeter", vmregister.ArgsDescriptor{}, engine.DispatcherInvokeField)
	if fn == nil {
		t.Fatalf("expected a getter-then-call dispatcher for a declared field")
	}

	result, err := fn.CurrentCode.Entry(&vmregister.CallFrame{}, []vmregister.Value{receiver})
	if err != nil {
		t.Fatalf("dispatcher entry: %v", err)
	}
	if vmregister.ToInt(result) != 9 {
		t.Errorf("result = %v, want 9 (the inner function's return value)", result)
	}
}

func TestGetInvocationDispatcherInvokeFieldRejectsNonCallableField(t *testing.T) {
	m := New()
	class := &vmregister.ClassObj{Name: "Thing", Properties: map[string]vmregister.Value{"greeter": vmregister.NilValue()}}
	receiver := vmregister.NewInstance(class)
	vmregister.AsInstance(receiver).Fields["greeter"] = vmregister.BoxInt(1)

	fn := m.GetInvocationDispatcher(class, "greeter", vmregister.ArgsDescriptor{}, engine.DispatcherInvokeField)
	if fn == nil {
		t.Fatalf("expected a getter-then-call dispatcher for a declared field")
	}
	if _, err := fn.CurrentCode.Entry(&vmregister.CallFrame{}, []vmregister.Value{receiver}); err == nil {
		t.Fatalf("expected an error calling through a field that does not hold a function")
	}
}

func TestGetInvocationDispatcherInvokeFieldWalksParentChain(t *testing.T) {
	m := New()
	base := &vmregister.ClassObj{Name: "Base", Properties: map[string]vmregister.Value{"greeter": vmregister.NilValue()}}
	derived := &vmregister.ClassObj{Name: "Derived", Parent: base}

	if got := m.GetInvocationDispatcher(derived, "greeter", vmregister.ArgsDescriptor{}, engine.DispatcherInvokeField); got == nil {
		t.Errorf("expected a field declared on an ancestor class to still dispatch")
	}
}

func TestGetInvocationDispatcherInvokeFieldIsCachedPerClassAndName(t *testing.T) {
	m := New()
	class := &vmregister.ClassObj{Name: "Thing", Properties: map[string]vmregister.Value{"greeter": vmregister.NilValue()}}

	first := m.GetInvocationDispatcher(class, "greeter", vmregister.ArgsDescriptor{}, engine.DispatcherInvokeField)
	second := m.GetInvocationDispatcher(class, "greeter", vmregister.ArgsDescriptor{}, engine.DispatcherInvokeField)
	if first != second {
		t.Errorf("expected repeated lookups for the same (class, name) to return the same synthesized dispatcher")
	}
}

func TestGetInvocationDispatcherNoSuchMethodReturnsClassOverride(t *testing.T) {
	m := New()
	nsmVal := vmregister.NewFunction("noSuchMethod", 0, nil, nil, func(f *vmregister.CallFrame, a []vmregister.Value) (vmregister.Value, error) {
		return vmregister.BoxInt(404), nil
	})
	class := &vmregister.ClassObj{
		Name:    "Thing",
		Methods: map[string]vmregister.Value{"noSuchMethod": nsmVal},
	}

	got := m.GetInvocationDispatcher(class, "missing", vmregister.ArgsDescriptor{}, engine.DispatcherNoSuchMethod)
	if got != vmregister.AsFunction(nsmVal) {
		t.Fatalf("expected the class's own noSuchMethod override to be returned, got %v", got)
	}
}

func TestHeapAllocateRawReturnsDistinctHandles(t *testing.T) {
	h := NewHeap()
	first, err := h.AllocateRaw(4)
	if err != nil {
		t.Fatalf("AllocateRaw: %v", err)
	}
	second, err := h.AllocateRaw(2)
	if err != nil {
		t.Fatalf("AllocateRaw: %v", err)
	}
	if vmregister.ToInt(first) == vmregister.ToInt(second) {
		t.Errorf("expected successive allocations to return distinct handles")
	}
	if vmregister.ToInt(second) != 4 {
		t.Errorf("second handle = %v, want 4 (offset past the first allocation)", second)
	}
}

func TestHeapAllocateRawRejectsNonPositiveSize(t *testing.T) {
	h := NewHeap()
	if _, err := h.AllocateRaw(0); err == nil {
		t.Errorf("expected an error allocating zero bytes")
	}
}

func TestHeapCollectGarbageIsNoop(t *testing.T) {
	h := NewHeap()
	h.CollectGarbage(0) // must not panic
}
