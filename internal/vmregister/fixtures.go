package vmregister

import "fmt"

// This file provides minimal, in-memory fixtures for three of the
// collaborator interfaces engine.Collaborators names: Resolver,
// CodePatcher, and DartEntry. (ObjectModel and Heap live in
// internal/objectmodel instead, since their methods reference
// engine-defined types and this package is imported by engine — putting
// them here would be an import cycle.) They exist purely so cmd/sentra
// and the engine package's own tests have something real to wire the
// core against; none of them is a production object-model, allocator,
// or call-site patcher. A production embedding of this core replaces
// every one of them.

// Resolver is a name-keyed, class-keyed method table: exactly the shape
// a tiny scripting VM's class registry already maintains, reused here
// rather than invented.
type Resolver struct {
	byClassAndName map[ClassID]map[string]*FunctionObj
}

// NewResolver creates an empty fixture resolver.
func NewResolver() *Resolver {
	return &Resolver{byClassAndName: make(map[ClassID]map[string]*FunctionObj)}
}

// Register installs fn as the method named name on the class identified
// by cid.
func (r *Resolver) Register(cid ClassID, name string, fn *FunctionObj) {
	methods := r.byClassAndName[cid]
	if methods == nil {
		methods = make(map[string]*FunctionObj)
		r.byClassAndName[cid] = methods
	}
	methods[name] = fn
}

// ResolveDynamic implements engine.Resolver.
func (r *Resolver) ResolveDynamic(receiver Value, name string, args ArgsDescriptor) *FunctionObj {
	return r.ResolveDynamicForReceiverClass(ClassIDOf(receiver), name, args)
}

// ResolveDynamicForReceiverClass implements engine.Resolver.
func (r *Resolver) ResolveDynamicForReceiverClass(cid ClassID, name string, args ArgsDescriptor) *FunctionObj {
	methods := r.byClassAndName[cid]
	if methods == nil {
		return nil
	}
	return methods[name]
}

// Patcher rewrites a CodeObj's own StaticCallTargets table in place;
// there is no separate machine-code image to patch in this fixture, so
// "patching" a pc is simply updating the entry the CallFrame's own
// dispatch loop would consult there.
type Patcher struct{}

// NewPatcher creates a fixture CodePatcher.
func NewPatcher() *Patcher { return &Patcher{} }

// PatchStaticCallAt implements engine.CodePatcher.
func (p *Patcher) PatchStaticCallAt(pc int, callerCode *CodeObj, newEntry EntryPoint) error {
	if callerCode == nil {
		return fmt.Errorf("vmregister: PatchStaticCallAt on nil code")
	}
	target := callerCode.StaticCallTargets[pc]
	if target == nil {
		target = &StaticCallTarget{}
		callerCode.StaticCallTargets[pc] = target
	}
	target.Code = &CodeObj{Entry: newEntry, Alive: true}
	return nil
}

// InsertCallAt implements engine.CodePatcher.
func (p *Patcher) InsertCallAt(pc int, target *StaticCallTarget) {
	_ = pc
	_ = target
}

// GetStaticCallTargetAt implements engine.CodePatcher.
func (p *Patcher) GetStaticCallTargetAt(pc int, code *CodeObj) *StaticCallTarget {
	if code == nil {
		return nil
	}
	return code.StaticCallTargets[pc]
}

// GetUnoptimizedStaticCallAt implements engine.CodePatcher.
func (p *Patcher) GetUnoptimizedStaticCallAt(pc int, code *CodeObj) *FunctionObj {
	if code == nil {
		return nil
	}
	if target := code.StaticCallTargets[pc]; target != nil {
		return target.Function
	}
	return nil
}

// DartEntry is a fixture entry invoker that calls straight through a
// FunctionObj's current code, the way a real entry would once it has
// finished marshalling arguments into registers.
type DartEntry struct{}

// NewDartEntry creates a fixture DartEntry.
func NewDartEntry() *DartEntry { return &DartEntry{} }

// InvokeFunction implements engine.DartEntry.
func (e *DartEntry) InvokeFunction(fn *FunctionObj, args []Value, descriptor ArgsDescriptor) (Value, error) {
	code := fn.CurrentCode
	if code == nil {
		code = fn.UnoptimizedCode
	}
	if code == nil || code.Entry == nil {
		return NilValue(), fmt.Errorf("vmregister: function %q has no entry to invoke", fn.Name)
	}
	frame := &CallFrame{Function: fn, Code: code, Registers: args}
	return code.Entry(frame, args)
}

// InvokeClosure implements engine.DartEntry.
func (e *DartEntry) InvokeClosure(closure Value, args []Value, descriptor ArgsDescriptor) (Value, error) {
	if !IsClosure(closure) {
		return NilValue(), fmt.Errorf("vmregister: InvokeClosure on non-closure value")
	}
	return e.InvokeFunction(AsClosure(closure).Function, args, descriptor)
}

// InvokeNoSuchMethod implements engine.DartEntry: this fixture has no
// managed noSuchMethod method to dispatch to, so it reports the miss as
// an error rather than silently returning nil.
func (e *DartEntry) InvokeNoSuchMethod(receiver Value, name string, args []Value, descriptor ArgsDescriptor) (Value, error) {
	return NilValue(), fmt.Errorf("vmregister: noSuchMethod(%q) unhandled", name)
}
