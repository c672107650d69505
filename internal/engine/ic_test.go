package engine

import (
	"testing"

	"sentra/internal/jit"
	"sentra/internal/vmregister"
)

func testEngineWithResolver() (*Engine, *vmregister.Resolver) {
	resolver := vmregister.NewResolver()
	e := New(Collaborators{
		Compiler:  jit.NewCompiler(jit.NewProfiler()),
		Resolver:  resolver,
		Patcher:   vmregister.NewPatcher(),
		Entry:     vmregister.NewDartEntry(),
		ObjectModel: noopObjectModel{},
	})
	return e, resolver
}

func greetFunction() *vmregister.FunctionObj {
	entry := func(frame *vmregister.CallFrame, args []vmregister.Value) (vmregister.Value, error) {
		return vmregister.BoxInt(42), nil
	}
	code := vmregister.NewUnoptimizedCode(entry, nil)
	return &vmregister.FunctionObj{Name: "greet", Optimizable: true, CurrentCode: code, UnoptimizedCode: code}
}

func TestInlineCacheMissHandlerResolvesAndCaches(t *testing.T) {
	e, resolver := testEngineWithResolver()
	class := &vmregister.ClassObj{Name: "Greeter", ID: 2001}
	fn := greetFunction()
	resolver.Register(class.ID, "greet", fn)

	receiver := vmregister.NewInstance(class)
	ic := &vmregister.ICData{TargetName: "greet", NumArgsTested: 1}

	entry, err := e.InlineCacheMissHandler(ic, receiver, nil)
	if err != nil {
		t.Fatalf("InlineCacheMissHandler: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected a resolved entry point")
	}
	if len(ic.Checks) != 1 {
		t.Fatalf("expected the miss to record one check, got %d", len(ic.Checks))
	}
}

func TestInlineCacheMissHandlerUnresolvedReturnsNil(t *testing.T) {
	e, _ := testEngineWithResolver()
	class := &vmregister.ClassObj{Name: "Lonely", ID: 2002}
	receiver := vmregister.NewInstance(class)
	ic := &vmregister.ICData{TargetName: "missing"}

	entry, err := e.InlineCacheMissHandler(ic, receiver, nil)
	if err != nil {
		t.Fatalf("InlineCacheMissHandler: %v", err)
	}
	if entry != nil {
		t.Errorf("expected a nil entry point for an unresolved target")
	}
}

func TestInlineCacheMissHandlerTwoArgsRecordsBothClassIDs(t *testing.T) {
	e, resolver := testEngineWithResolver()
	class := &vmregister.ClassObj{Name: "Adder", ID: 2003}
	fn := greetFunction()
	resolver.Register(class.ID, "add", fn)

	receiver := vmregister.NewInstance(class)
	ic := &vmregister.ICData{TargetName: "add", NumArgsTested: 2}

	if _, err := e.InlineCacheMissHandlerTwoArgs(ic, receiver, vmregister.BoxInt(1)); err != nil {
		t.Fatalf("InlineCacheMissHandlerTwoArgs: %v", err)
	}
	if len(ic.Checks) != 1 || len(ic.Checks[0].ClassIDs) != 2 {
		t.Fatalf("expected one check keyed on two class ids, got %+v", ic.Checks)
	}
}

func TestMegamorphicCacheMissHandlerInsertsAndHits(t *testing.T) {
	e, resolver := testEngineWithResolver()
	class := &vmregister.ClassObj{Name: "Many", ID: 2004}
	fn := greetFunction()
	resolver.Register(class.ID, "greet", fn)

	receiver := vmregister.NewInstance(class)
	args := vmregister.ArgsDescriptor{Count: 0}

	entry, err := e.MegamorphicCacheMissHandler(receiver, "greet", args)
	if err != nil {
		t.Fatalf("MegamorphicCacheMissHandler: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected a resolved entry on first miss")
	}

	// Second call should hit the cache rather than resolving again.
	if _, err := e.MegamorphicCacheMissHandler(receiver, "greet", args); err != nil {
		t.Fatalf("MegamorphicCacheMissHandler (second call): %v", err)
	}
	cache := e.megamorphicCacheFor("greet", args)
	hit := cache.Lookup("greet", args, vmregister.ClassIDOf(receiver))
	if hit == nil || hit.HitCount < 2 {
		t.Fatalf("expected the second call to hit the entry inserted by the first")
	}
}

func TestStaticCallMissHandlerCompilesIfNeeded(t *testing.T) {
	e, _ := testEngineWithResolver()
	entry := func(frame *vmregister.CallFrame, args []vmregister.Value) (vmregister.Value, error) {
		return vmregister.NilValue(), nil
	}
	fn := &vmregister.FunctionObj{Name: "f", UnoptimizedCode: vmregister.NewUnoptimizedCode(entry, nil)}

	got, err := e.StaticCallMissHandler(fn)
	if err != nil {
		t.Fatalf("StaticCallMissHandler: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a non-nil entry point after compiling")
	}
	if fn.CurrentCode == nil {
		t.Errorf("StaticCallMissHandler should have installed CurrentCode")
	}
}

// scriptedDispatcherModel is a local ObjectModel double that hands back
// whichever dispatcher (if any) was scripted for each kind, used to
// exercise InstanceFunctionLookup's two branches end to end. Pulling in
// internal/objectmodel here would be an import cycle, since that package
// imports engine.
type scriptedDispatcherModel struct {
	invokeField  *vmregister.FunctionObj
	noSuchMethod *vmregister.FunctionObj
}

func (m scriptedDispatcherModel) Canonicalize(args vmregister.TypeArgs) (vmregister.TypeArgs, *BoundError) {
	return args, nil
}
func (m scriptedDispatcherModel) InstantiateFrom(args, instantiator vmregister.TypeArgs) (vmregister.TypeArgs, *BoundError) {
	return args, nil
}
func (m scriptedDispatcherModel) IsInstanceOf(instance vmregister.Value, typ, instantiator vmregister.TypeArgs) (bool, *BoundError) {
	return false, nil
}
func (m scriptedDispatcherModel) GetInvocationDispatcher(class *vmregister.ClassObj, name string, args vmregister.ArgsDescriptor, kind DispatcherKind) *vmregister.FunctionObj {
	if kind == DispatcherInvokeField {
		return m.invokeField
	}
	return m.noSuchMethod
}

func TestInstanceFunctionLookupDispatchesGetterThenCall(t *testing.T) {
	getterCode := vmregister.NewUnoptimizedCode(func(f *vmregister.CallFrame, a []vmregister.Value) (vmregister.Value, error) {
		return vmregister.BoxInt(77), nil
	}, nil)
	getter := &vmregister.FunctionObj{Name: "get:greeter", CurrentCode: getterCode, UnoptimizedCode: getterCode}

	e := New(Collaborators{
		Entry:       vmregister.NewDartEntry(),
		ObjectModel: scriptedDispatcherModel{invokeField: getter},
	})

	class := &vmregister.ClassObj{Name: "Thing", ID: 9001}
	receiver := vmregister.NewInstance(class)
	ic := &vmregister.ICData{TargetName: "greeter"}

	result, err := e.InstanceFunctionLookup(ic, receiver, nil)
	if err != nil {
		t.Fatalf("InstanceFunctionLookup: %v", err)
	}
	if vmregister.ToInt(result) != 77 {
		t.Errorf("result = %v, want 77 (the getter-then-call dispatcher's return value)", result)
	}
	if len(ic.Checks) != 1 || ic.Checks[0].Target != getter {
		t.Fatalf("expected the getter-then-call dispatcher to be recorded as a check, got %+v", ic.Checks)
	}
}

func TestInstanceFunctionLookupInstallsNoSuchMethodDispatcher(t *testing.T) {
	nsmCode := vmregister.NewUnoptimizedCode(func(f *vmregister.CallFrame, a []vmregister.Value) (vmregister.Value, error) {
		return vmregister.NilValue(), nil
	}, nil)
	nsm := &vmregister.FunctionObj{Name: "noSuchMethod", CurrentCode: nsmCode, UnoptimizedCode: nsmCode}

	e := New(Collaborators{
		Entry:       vmregister.NewDartEntry(),
		ObjectModel: scriptedDispatcherModel{noSuchMethod: nsm},
	})

	class := &vmregister.ClassObj{Name: "Thing", ID: 9002}
	receiver := vmregister.NewInstance(class)
	ic := &vmregister.ICData{TargetName: "missing"}

	if _, err := e.InstanceFunctionLookup(ic, receiver, nil); err == nil {
		t.Fatalf("expected the fixture DartEntry to report an unhandled noSuchMethod")
	}
	if len(ic.Checks) != 1 || ic.Checks[0].Target != nsm {
		t.Fatalf("expected the noSuchMethod dispatcher to be installed as a check, got %+v", ic.Checks)
	}
}

func TestInstanceFunctionLookupWithNoClassFallsStraightToNoSuchMethod(t *testing.T) {
	e := New(Collaborators{
		Entry:       vmregister.NewDartEntry(),
		ObjectModel: scriptedDispatcherModel{},
	})
	ic := &vmregister.ICData{TargetName: "missing"}

	if _, err := e.InstanceFunctionLookup(ic, vmregister.BoxInt(1), nil); err == nil {
		t.Fatalf("expected an unhandled noSuchMethod error for a receiver with no user-defined class")
	}
}

func TestUpdateICDataTwoArgsAppendsWithoutResolving(t *testing.T) {
	e, _ := testEngineWithResolver()
	fn := greetFunction()
	ic := &vmregister.ICData{TargetName: "add"}

	e.UpdateICDataTwoArgs(ic, vmregister.BoxInt(1), vmregister.BoxInt(2), fn)

	if len(ic.Checks) != 1 {
		t.Fatalf("expected UpdateICDataTwoArgs to append exactly one check")
	}
	if ic.Checks[0].Target != fn {
		t.Errorf("recorded target = %v, want %v", ic.Checks[0].Target, fn)
	}
}
