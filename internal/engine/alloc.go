package engine

import "sentra/internal/vmregister"

// NoInstantiator is the sentinel instantiator meaning "no instantiator
// supplied" — type args, if present, must already be fully instantiated.
var NoInstantiator = vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat}

// AllocateArray allocates an array of the given length with the supplied
// element type-argument vector attached, so a later List<T> instanceof
// check can retrieve it.
func (e *Engine) AllocateArray(length int, elementTypeArgs vmregister.TypeArgs) (vmregister.Value, error) {
	if length < 0 {
		return vmregister.NilValue(), e.Collab.Exceptions.CreateAndThrowTypeError(0, "", "Array", "length", "negative array length")
	}
	v := vmregister.NewArray(length)
	vmregister.AsArray(v).TypeArgs = elementTypeArgs
	return v, nil
}

// AllocateArrayEntry is AllocateArray addressed through the marshalled
// Arguments protocol: the requested length is ArgAt(0) (boxed int), and
// the allocated array is written back via SetReturn.
func (e *Engine) AllocateArrayEntry(args *Arguments, elementTypeArgs vmregister.TypeArgs) error {
	v, err := e.AllocateArray(int(vmregister.AsInt(args.ArgAt(0))), elementTypeArgs)
	if err != nil {
		return err
	}
	args.SetReturn(v)
	return nil
}

// AllocateObject allocates an instance of class with the given
// type-argument vector attached: non-generic classes require an empty
// vector; generic classes with no instantiator store the vector
// directly (it must already be instantiated); otherwise a lazy
// InstantiatedTypeArgumentVector pair is recorded without eager
// resolution.
func (e *Engine) AllocateObject(class *vmregister.ClassObj, typeArgs, instantiator vmregister.TypeArgs) (vmregister.Value, error) {
	if class.NumTypeArgs == 0 {
		if len(typeArgs.Flat) != 0 || typeArgs.Kind == vmregister.TypeArgsLazy {
			return vmregister.NilValue(), e.Collab.Exceptions.CreateAndThrowTypeError(0, "", class.Name, "", "non-generic class given type arguments")
		}
		return vmregister.NewInstance(class), nil
	}

	v := vmregister.NewInstance(class)
	inst := vmregister.AsInstance(v)

	if instantiator.Kind == vmregister.TypeArgsFlat && len(instantiator.Flat) == 0 {
		if len(typeArgs.Flat) < class.NumTypeArgs {
			return vmregister.NilValue(), e.Collab.Exceptions.CreateAndThrowTypeError(0, "", class.Name, "", "too few type arguments")
		}
		inst.TypeArgs = typeArgs
		return v, nil
	}

	// Lazy instantiation: the caller's inlined fast path already handles
	// the identity case (instantiator reusable as type args); by the time
	// we get here it is the non-identity case.
	inst.TypeArgs = vmregister.TypeArgs{
		Kind:           vmregister.TypeArgsLazy,
		Uninstantiated: typeArgs.Uninstantiated,
		Instantiator:   &instantiator,
	}
	return v, nil
}

// AllocateObjectWithBoundsCheck is AllocateObject plus an eager
// InstantiateFrom call so a bound-error surfaces as a type error at the
// caller's token position instead of silently deferring to the next
// subtype test.
func (e *Engine) AllocateObjectWithBoundsCheck(class *vmregister.ClassObj, typeArgs, instantiator vmregister.TypeArgs, loc TokenPosition) (vmregister.Value, error) {
	resolved, berr := e.Collab.ObjectModel.InstantiateFrom(typeArgs, instantiator)
	if berr != nil {
		return vmregister.NilValue(), e.Collab.Exceptions.CreateAndThrowTypeError(loc, "", class.Name, "", berr.Message)
	}
	return e.AllocateObject(class, resolved, NoInstantiator)
}

// AllocateClosure allocates a closure over fn, capturing the current top
// context from the isolate.
func (e *Engine) AllocateClosure(fn *vmregister.FunctionObj, ctxTop *vmregister.UpvalueObj) vmregister.Value {
	obj := &vmregister.ClosureObj{
		Object:   vmregister.Object{Type: vmregister.OBJ_CLOSURE},
		Function: fn,
	}
	if ctxTop != nil {
		obj.Upvalues = []*vmregister.UpvalueObj{ctxTop}
	}
	return vmregister.BoxObject(&obj.Object)
}

// AllocateImplicitInstanceClosure allocates a bound-method closure,
// synthesizing a one-slot context containing the receiver.
func (e *Engine) AllocateImplicitInstanceClosure(fn *vmregister.FunctionObj, receiver vmregister.Value) vmregister.Value {
	ctx := &vmregister.UpvalueObj{Closed: receiver}
	return e.AllocateClosure(fn, ctx)
}

// AllocateContext allocates a context frame with numVariables empty
// slots, used for closures that capture multiple locals.
func (e *Engine) AllocateContext(numVariables int) []vmregister.Value {
	return make([]vmregister.Value, numVariables)
}

// CloneContext copies a context's slots into a fresh backing array (used
// when a loop body captures fresh upvalues each iteration).
func (e *Engine) CloneContext(ctx []vmregister.Value) []vmregister.Value {
	out := make([]vmregister.Value, len(ctx))
	copy(out, ctx)
	return out
}
