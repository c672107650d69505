// Package engine implements the runtime-entry core: the narrow set of
// services compiled code calls back into when it cannot finish an
// operation inline (inline-cache misses, type tests, optimization,
// deoptimization, and call-site patching).
//
// Every external subsystem the core depends on — the compiler, the
// resolver, the code patcher, the object model, the heap, the debugger,
// the exception subsystem, and Dart-style entry invocation — is named
// here as a narrow interface. Production wiring of these interfaces is
// somebody else's package; the engine only ever calls through them.
package engine

import "sentra/internal/vmregister"

// Compiler produces Code for a Function, either from scratch or as an
// optimized (possibly OSR) variant.
type Compiler interface {
	CompileFunction(fn *vmregister.FunctionObj) error
	CompileOptimizedFunction(fn *vmregister.FunctionObj, osrID int32) error
}

// Resolver performs dynamic method lookup, the only place class
// hierarchy knowledge enters the core.
type Resolver interface {
	ResolveDynamic(receiver vmregister.Value, name string, args vmregister.ArgsDescriptor) *vmregister.FunctionObj
	ResolveDynamicForReceiverClass(class vmregister.ClassID, name string, args vmregister.ArgsDescriptor) *vmregister.FunctionObj
}

// CodePatcher rewrites call-site immediates in compiled code.
type CodePatcher interface {
	PatchStaticCallAt(pc int, callerCode *vmregister.CodeObj, newEntry vmregister.EntryPoint) error
	InsertCallAt(pc int, target *vmregister.StaticCallTarget)
	GetStaticCallTargetAt(pc int, code *vmregister.CodeObj) *vmregister.StaticCallTarget
	GetUnoptimizedStaticCallAt(pc int, code *vmregister.CodeObj) *vmregister.FunctionObj
}

// BoundError is returned by object-model operations that can fail due to
// malbounded generic instantiation.
type BoundError struct {
	Message string
}

func (e *BoundError) Error() string { return e.Message }

// ObjectModel supplies type-vector canonicalization and instance checks;
// the engine never inspects type structure itself.
type ObjectModel interface {
	Canonicalize(args vmregister.TypeArgs) (vmregister.TypeArgs, *BoundError)
	InstantiateFrom(args, instantiator vmregister.TypeArgs) (vmregister.TypeArgs, *BoundError)
	IsInstanceOf(instance vmregister.Value, typ vmregister.TypeArgs, instantiator vmregister.TypeArgs) (bool, *BoundError)
	GetInvocationDispatcher(class *vmregister.ClassObj, name string, args vmregister.ArgsDescriptor, kind DispatcherKind) *vmregister.FunctionObj
}

// DispatcherKind distinguishes the two synthetic dispatchers the object
// model may hand back when no method resolves for a call.
type DispatcherKind int

const (
	DispatcherInvokeField DispatcherKind = iota
	DispatcherNoSuchMethod
)

// Heap is the narrow allocation/collection surface the core needs.
type Heap interface {
	CollectGarbage(kind GCKind)
	AllocateRaw(size int) (vmregister.Value, error)
}

// GCKind distinguishes collection strategies requested by allocation
// entries that failed to find space inline.
type GCKind int

const (
	GCScavenge GCKind = iota
	GCMarkSweep
)

// Debugger is the five operations the core needs from the debugger
// front-end; everything else about breakpoints and stepping lives
// outside the core.
type Debugger interface {
	IsStepping() bool
	HasBreakpoint(fn *vmregister.FunctionObj) bool
	GetPatchedStubAddress(pc int) int
	SignalBpReached()
	SingleStepCallback()
}

// Exceptions is the bridge back into managed code for every error the
// core raises.
type Exceptions interface {
	Throw(exception vmregister.Value) error
	ReThrow(exception vmregister.Value, stacktrace vmregister.Value) error
	CreateAndThrowTypeError(loc TokenPosition, src, dst, name, boundMsg string) error
	PropagateError(err error) error

	// ThrowStackOverflow raises the preallocated StackOverflowError; the
	// one entry point that needs an exception instance with no managed
	// value behind it.
	ThrowStackOverflow() error
}

// TokenPosition identifies a source location the way the frontend
// reports it to the core — a single opaque offset, never a (file, line)
// pair, since the core has no access to source text.
type TokenPosition int32

// DartEntry invokes managed code from within a runtime entry (used by
// the noSuchMethod and getter-dispatch fallbacks).
type DartEntry interface {
	InvokeFunction(fn *vmregister.FunctionObj, args []vmregister.Value, descriptor vmregister.ArgsDescriptor) (vmregister.Value, error)
	InvokeClosure(closure vmregister.Value, args []vmregister.Value, descriptor vmregister.ArgsDescriptor) (vmregister.Value, error)
	InvokeNoSuchMethod(receiver vmregister.Value, name string, args []vmregister.Value, descriptor vmregister.ArgsDescriptor) (vmregister.Value, error)
}

// TraceEmitter is the narrow sink the trace_* flag family writes
// to. The engine never depends on how (or whether) events reach an
// observer; internal/tracesink is one implementation, a no-op is
// another.
type TraceEmitter interface {
	Emit(kind, function string, classID vmregister.ClassID, pc int, detail string)
}

// Collaborators bundles every external dependency the engine needs.
// Runtime entries are methods on *Engine so they can close over exactly
// this set rather than taking eight parameters each.
type Collaborators struct {
	Compiler    Compiler
	Resolver    Resolver
	Patcher     CodePatcher
	ObjectModel ObjectModel
	Heap        Heap
	Debugger    Debugger
	Exceptions  Exceptions
	Entry       DartEntry

	// Trace is optional; nil means every trace_* flag is effectively off
	// regardless of its configured value.
	Trace TraceEmitter
}

// Engine is the runtime-entry core bound to one isolate's collaborators,
// flags, and mutable state (megamorphic cache table, deopt context).
type Engine struct {
	Collab Collaborators
	Flags  Flags

	megamorphic map[string]*vmregister.MegamorphicCache
	deopt       *DeoptContext // non-nil only between copy and materialize phases
}

// New builds an Engine bound to the given collaborators, with default
// flags. Call SetFlags after construction to override thresholds.
func New(collab Collaborators) *Engine {
	return &Engine{
		Collab:      collab,
		Flags:       DefaultFlags(),
		megamorphic: make(map[string]*vmregister.MegamorphicCache),
	}
}

func (e *Engine) megamorphicCacheFor(name string, args vmregister.ArgsDescriptor) *vmregister.MegamorphicCache {
	key := name + "/" + args.Key()
	cache, ok := e.megamorphic[key]
	if !ok {
		cache = vmregister.NewMegamorphicCache()
		e.megamorphic[key] = cache
	}
	return cache
}
