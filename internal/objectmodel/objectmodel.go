// Package objectmodel is a minimal fixture implementation of
// engine.ObjectModel: structural canonicalization of type-argument
// vectors and single-inheritance instanceof. It exists to give the
// runtime-entry core a real collaborator to call through for
// demonstration and testing; a production embedding supplies its own,
// backed by the actual class hierarchy and generic-bound machinery.
package objectmodel

import (
	"fmt"

	"sentra/internal/engine"
	"sentra/internal/vmregister"
)

// Model is the fixture ObjectModel.
type Model struct {
	canonical []vmregister.TypeArgs

	dispatchers map[dispatcherKey]*vmregister.FunctionObj
}

// dispatcherKey identifies one synthesized dispatcher, cached so repeated
// misses at the same call site reuse the same FunctionObj rather than
// building a fresh closure every time.
type dispatcherKey struct {
	class *vmregister.ClassObj
	name  string
	kind  engine.DispatcherKind
}

// New creates a fixture Model with an empty canonicalization table.
func New() *Model {
	return &Model{}
}

// Canonicalize implements engine.ObjectModel: flattens args, then scans
// the running table for a structurally equal flat vector before adding
// a new entry, so repeated instantiations of the same generic shape
// share one TypeArgs rather than allocating a fresh one every time.
func (m *Model) Canonicalize(args vmregister.TypeArgs) (vmregister.TypeArgs, *engine.BoundError) {
	flat := args.Canonicalize()
	for _, existing := range m.canonical {
		if sameFlat(existing, flat) {
			return existing, nil
		}
	}
	m.canonical = append(m.canonical, flat)
	return flat, nil
}

func sameFlat(a, b vmregister.TypeArgs) bool {
	if len(a.Flat) != len(b.Flat) {
		return false
	}
	for i := range a.Flat {
		if a.Flat[i] != b.Flat[i] {
			return false
		}
	}
	return true
}

// InstantiateFrom implements engine.ObjectModel: a flat TypeArgs is
// already fully instantiated; a lazy one resolves against instantiator
// directly, since this fixture carries no deferred bound-check state.
func (m *Model) InstantiateFrom(args, instantiator vmregister.TypeArgs) (vmregister.TypeArgs, *engine.BoundError) {
	if !args.StillLazy() {
		return args, nil
	}
	return instantiator, nil
}

// IsInstanceOf implements engine.ObjectModel: true if instance's class,
// or any ancestor reached by walking Parent, has the class id named by
// typ's canonicalized vector. This fixture has no richer type
// representation than a flattened ClassID vector, so by convention the
// destination class for a simple `is` test is typ's first entry.
func (m *Model) IsInstanceOf(instance vmregister.Value, typ, instantiator vmregister.TypeArgs) (bool, *engine.BoundError) {
	if !vmregister.IsInstance(instance) {
		return false, nil
	}
	flat := typ.Canonicalize()
	if len(flat.Flat) == 0 {
		return false, nil
	}
	target := flat.Flat[0]
	for c := vmregister.AsInstance(instance).Class; c != nil; c = c.Parent {
		if c.ID == target {
			return true, nil
		}
	}
	return false, nil
}

// GetInvocationDispatcher implements engine.ObjectModel: it synthesizes
// the two dispatcher kinds InstanceFunctionLookup asks for, using the
// class's own Methods/Properties tables (walked up the Parent chain) as
// the only signal this fixture has — a production object model would
// consult its full member resolution instead.
func (m *Model) GetInvocationDispatcher(class *vmregister.ClassObj, name string, args vmregister.ArgsDescriptor, kind engine.DispatcherKind) *vmregister.FunctionObj {
	switch kind {
	case engine.DispatcherInvokeField:
		return m.fieldGetterDispatcher(class, name)
	case engine.DispatcherNoSuchMethod:
		return lookupMethod(class, "noSuchMethod")
	default:
		return nil
	}
}

// fieldGetterDispatcher returns the synthetic "getter-then-call"
// dispatcher for name when class (or an ancestor) declares a field of
// that name: the returned function reads the field off whatever
// instance it is actually called with and invokes the callable value it
// holds, the way a call through a field that happens to hold a closure
// works. Returns nil when the class declares no such field, so a real
// noSuchMethod dispatch still gets a chance afterward.
func (m *Model) fieldGetterDispatcher(class *vmregister.ClassObj, name string) *vmregister.FunctionObj {
	if !classDeclaresField(class, name) {
		return nil
	}
	key := dispatcherKey{class: class, name: name, kind: engine.DispatcherInvokeField}
	if fn, ok := m.dispatchers[key]; ok {
		return fn
	}

	entry := func(frame *vmregister.CallFrame, callArgs []vmregister.Value) (vmregister.Value, error) {
		if len(callArgs) == 0 || !vmregister.IsInstance(callArgs[0]) {
			return vmregister.NilValue(), fmt.Errorf("objectmodel: getter-then-call dispatcher for %q invoked without a receiver", name)
		}
		getter := vmregister.AsInstance(callArgs[0]).Fields[name]
		if !vmregister.IsFunction(getter) {
			return vmregister.NilValue(), fmt.Errorf("objectmodel: field %q is not callable", name)
		}
		return invoke(getter, frame, callArgs[1:])
	}
	code := vmregister.NewUnoptimizedCode(entry, nil)
	fn := &vmregister.FunctionObj{
		Name:            "get:" + name,
		OwningClass:     class,
		CurrentCode:     code,
		UnoptimizedCode: code,
	}
	m.cacheDispatcher(key, fn)
	return fn
}

// invoke calls through a boxed function-or-closure value directly,
// without going through DartEntry: GetInvocationDispatcher has no
// Collaborators of its own to reach the entry invoker with.
func invoke(v vmregister.Value, frame *vmregister.CallFrame, args []vmregister.Value) (vmregister.Value, error) {
	target := vmregister.AsFunction(v)
	if vmregister.IsClosure(v) {
		target = vmregister.AsClosure(v).Function
	}
	code := target.CurrentCode
	if code == nil {
		code = target.UnoptimizedCode
	}
	if code == nil || code.Entry == nil {
		return vmregister.NilValue(), fmt.Errorf("objectmodel: %q has no entry to invoke", target.Name)
	}
	return code.Entry(frame, args)
}

func (m *Model) cacheDispatcher(key dispatcherKey, fn *vmregister.FunctionObj) {
	if m.dispatchers == nil {
		m.dispatchers = make(map[dispatcherKey]*vmregister.FunctionObj)
	}
	m.dispatchers[key] = fn
}

// classDeclaresField reports whether class or an ancestor has a
// Properties entry named name.
func classDeclaresField(class *vmregister.ClassObj, name string) bool {
	for c := class; c != nil; c = c.Parent {
		if _, ok := c.Properties[name]; ok {
			return true
		}
	}
	return false
}

// lookupMethod walks class's Parent chain for a Methods entry named
// name, returning the FunctionObj it resolves to.
func lookupMethod(class *vmregister.ClassObj, name string) *vmregister.FunctionObj {
	for c := class; c != nil; c = c.Parent {
		v, ok := c.Methods[name]
		if !ok || !vmregister.IsFunction(v) {
			continue
		}
		if vmregister.IsClosure(v) {
			return vmregister.AsClosure(v).Function
		}
		return vmregister.AsFunction(v)
	}
	return nil
}

// Heap is a fixture allocator: AllocateRaw succeeds for any positive
// size against an unbounded Go slice-backed arena, and CollectGarbage is a no-op, since
// this fixture never needs to reclaim anything it hands out.
type Heap struct {
	arena []vmregister.Value
}

// NewHeap creates a fixture Heap.
func NewHeap() *Heap { return &Heap{} }

// CollectGarbage implements engine.Heap.
func (h *Heap) CollectGarbage(kind engine.GCKind) {}

// AllocateRaw implements engine.Heap: appends size nil Values to the
// arena and returns a handle to the first one.
func (h *Heap) AllocateRaw(size int) (vmregister.Value, error) {
	if size <= 0 {
		return vmregister.NilValue(), fmt.Errorf("objectmodel: AllocateRaw with size %d", size)
	}
	start := len(h.arena)
	for i := 0; i < size; i++ {
		h.arena = append(h.arena, vmregister.NilValue())
	}
	return vmregister.BoxInt(int64(start)), nil
}
