package engine

import "sentra/internal/vmregister"

// InlineCacheMissHandler handles a miss at an arity-n instance call site.
// It resolves the target dynamically, compiles it if necessary, records
// the new check, and returns the entry point generated code should jump
// to — or a nil EntryPoint if resolution found nothing, signalling the
// caller to fall back to InstanceFunctionLookup.
func (e *Engine) InlineCacheMissHandler(ic *vmregister.ICData, receiver vmregister.Value, extraArgs []vmregister.Value) (vmregister.EntryPoint, error) {
	cids := make([]vmregister.ClassID, 0, ic.NumArgsTested)
	cids = append(cids, vmregister.ClassIDOf(receiver))
	for _, a := range extraArgs {
		cids = append(cids, vmregister.ClassIDOf(a))
	}

	fn := e.Collab.Resolver.ResolveDynamic(receiver, ic.TargetName, ic.Args)
	if fn == nil {
		e.emitTrace(e.Flags.TraceICMisses, "ic_miss", ic.TargetName, cids[0], 0, "unresolved")
		return nil, nil
	}

	if fn.CurrentCode == nil {
		if err := e.Collab.Compiler.CompileFunction(fn); err != nil {
			return nil, err
		}
	}

	ic.AddCheck(cids, fn, fn.CurrentCode)
	e.emitTrace(e.Flags.TraceICMisses, "ic_miss", ic.TargetName, cids[0], 0, qualifiedName(fn))
	return fn.CurrentCode.Entry, nil
}

// InlineCacheMissHandlerOneArg is the 1-argument (receiver-only) entry
// point generated code calls directly at a single-argument call site.
func (e *Engine) InlineCacheMissHandlerOneArg(ic *vmregister.ICData, receiver vmregister.Value) (vmregister.EntryPoint, error) {
	return e.InlineCacheMissHandler(ic, receiver, nil)
}

// InlineCacheMissHandlerTwoArgs is the 2-argument form, used by binary
// operators whose dispatch also keys on the operand's class.
func (e *Engine) InlineCacheMissHandlerTwoArgs(ic *vmregister.ICData, receiver, arg1 vmregister.Value) (vmregister.EntryPoint, error) {
	return e.InlineCacheMissHandler(ic, receiver, []vmregister.Value{arg1})
}

// InlineCacheMissHandlerThreeArgs is the 3-argument form.
func (e *Engine) InlineCacheMissHandlerThreeArgs(ic *vmregister.ICData, receiver, arg1, arg2 vmregister.Value) (vmregister.EntryPoint, error) {
	return e.InlineCacheMissHandler(ic, receiver, []vmregister.Value{arg1, arg2})
}

// InstanceFunctionLookup is the fallback invoked by a megamorphic stub
// when InlineCacheMissHandler found no target at all: first a
// getter-then-call dispatch, then noSuchMethod.
func (e *Engine) InstanceFunctionLookup(ic *vmregister.ICData, receiver vmregister.Value, args []vmregister.Value) (vmregister.Value, error) {
	cid := vmregister.ClassIDOf(receiver)
	class := classOf(receiver)

	if class != nil {
		if getter := e.Collab.ObjectModel.GetInvocationDispatcher(class, ic.TargetName, ic.Args, DispatcherInvokeField); getter != nil {
			ic.AddCheck([]vmregister.ClassID{cid}, getter, getter.CurrentCode)
			return e.Collab.Entry.InvokeFunction(getter, append([]vmregister.Value{receiver}, args...), ic.Args)
		}
	}

	name := ic.TargetName
	if vmregister.IsClosure(receiver) {
		name = vmregister.AsClosure(receiver).Function.Name
	}

	if class != nil && ic.Lookup([]vmregister.ClassID{cid}) == nil {
		if nsm := e.Collab.ObjectModel.GetInvocationDispatcher(class, name, ic.Args, DispatcherNoSuchMethod); nsm != nil {
			ic.AddCheck([]vmregister.ClassID{cid}, nsm, nsm.CurrentCode)
		}
	}
	return e.Collab.Entry.InvokeNoSuchMethod(receiver, name, args, ic.Args)
}

// MegamorphicCacheMissHandler handles a miss at a call site that has
// already escalated past its inline polymorphic capacity. It resolves
// against the isolate-owned per-(name, descriptor) cache, compiling and
// inserting as needed; a nil return signals the caller to run
// InstanceFunctionLookup instead.
func (e *Engine) MegamorphicCacheMissHandler(receiver vmregister.Value, name string, args vmregister.ArgsDescriptor) (vmregister.EntryPoint, error) {
	cid := vmregister.ClassIDOf(receiver)
	cache := e.megamorphicCacheFor(name, args)

	if hit := cache.Lookup(name, args, cid); hit != nil {
		hit.HitCount++
		return hit.Code.Entry, nil
	}

	fn := e.Collab.Resolver.ResolveDynamicForReceiverClass(cid, name, args)
	if fn == nil {
		return nil, nil
	}
	if fn.CurrentCode == nil {
		if err := e.Collab.Compiler.CompileFunction(fn); err != nil {
			return nil, err
		}
	}
	cache.Insert(name, args, cid, fn, fn.CurrentCode)
	e.emitTrace(e.Flags.TraceICMisses, "megamorphic", name, cid, 0, qualifiedName(fn))
	return fn.CurrentCode.Entry, nil
}

// StaticCallMissHandler resolves a static call that has not yet been
// linked, compiling the callee if needed and returning its entry point
// so the patcher can link the call site.
func (e *Engine) StaticCallMissHandler(fn *vmregister.FunctionObj) (vmregister.EntryPoint, error) {
	if fn.CurrentCode == nil {
		if err := e.Collab.Compiler.CompileFunction(fn); err != nil {
			return nil, err
		}
	}
	return fn.CurrentCode.Entry, nil
}

// UpdateICDataTwoArgs appends a check without going through the full miss
// protocol, used when the call site already knows its target (e.g. after
// a successful static resolution) and only needs the cache populated.
func (e *Engine) UpdateICDataTwoArgs(ic *vmregister.ICData, receiver, arg1 vmregister.Value, target *vmregister.FunctionObj) {
	cids := []vmregister.ClassID{vmregister.ClassIDOf(receiver), vmregister.ClassIDOf(arg1)}
	ic.AddCheck(cids, target, target.CurrentCode)
}

// classOf returns the ClassObj backing a value's runtime class, or nil
// for values with no user-defined class (built-in kinds).
func classOf(v vmregister.Value) *vmregister.ClassObj {
	if vmregister.IsInstance(v) {
		return vmregister.AsInstance(v).Class
	}
	return nil
}
