package engine

import "sentra/internal/vmregister"

// Instanceof implements the cached `instance-of` check: DartEntry-callable
// from generated code at an `is` test that missed its inline fast path.
// It canonicalizes all three type-argument vectors through the object
// model's hash-consing Canonicalize — never the vmregister-local
// TypeArgs.Canonicalize, which merely flattens and allocates a fresh
// vector for every lazy input — before consulting the per-call-site cache, whose entries
// are compared by the resulting vector identity rather than structurally.
func (e *Engine) Instanceof(cache *vmregister.SubtypeTestCache, instance vmregister.Value, typ, instantiatorArgs vmregister.TypeArgs, loc TokenPosition) (bool, error) {
	if cache != nil && e.Flags.MaxSubtypeCacheEntries > 0 {
		cache.MaxEntries = e.Flags.MaxSubtypeCacheEntries
	}

	cid := vmregister.ClassIDOf(instance)

	instanceArgs, berr := e.Collab.ObjectModel.Canonicalize(instanceTypeArgsOf(instance))
	if berr != nil {
		return false, e.Collab.Exceptions.CreateAndThrowTypeError(loc, "", "", "", berr.Message)
	}
	instantiatorArgs, berr = e.Collab.ObjectModel.Canonicalize(instantiatorArgs)
	if berr != nil {
		return false, e.Collab.Exceptions.CreateAndThrowTypeError(loc, "", "", "", berr.Message)
	}
	typ, berr = e.Collab.ObjectModel.Canonicalize(typ)
	if berr != nil {
		return false, e.Collab.Exceptions.CreateAndThrowTypeError(loc, "", "", "", berr.Message)
	}

	// Swap the canonical, hash-consed vector into the instance: once
	// canonicalized, later tests on the same instance see the shared
	// Flat vector and skip re-instantiation entirely.
	if vmregister.IsInstance(instance) {
		vmregister.AsInstance(instance).TypeArgs = instanceArgs
	}

	if result, hit := cache.Lookup(cid, instantiatorArgs, typ, instanceArgs); hit {
		return result, nil
	}

	result, berr := e.Collab.ObjectModel.IsInstanceOf(instance, typ, instantiatorArgs)
	if berr != nil {
		return false, e.Collab.Exceptions.CreateAndThrowTypeError(loc, "", "", "", berr.Message)
	}

	if instantiatorArgs.StillLazy() {
		return result, nil
	}
	cache.Insert(cid, instantiatorArgs, typ, instanceArgs, result)
	return result, nil
}

// InstanceofEntry is Instanceof addressed through the marshalled
// Arguments protocol: the instance under test is ArgAt(0), and the
// bool result is written back via SetReturn rather than returned
// directly, for call sites built against a fixed argument array instead
// of typed Go parameters.
func (e *Engine) InstanceofEntry(args *Arguments, cache *vmregister.SubtypeTestCache, typ, instantiatorArgs vmregister.TypeArgs, loc TokenPosition) error {
	result, err := e.Instanceof(cache, args.ArgAt(0), typ, instantiatorArgs, loc)
	if err != nil {
		return err
	}
	args.SetReturn(vmregister.BoxBool(result))
	return nil
}

// TypeCheck implements an assignment check: identical protocol to
// Instanceof, but a false result (with no bound error) raises a type
// error instead of returning false, and a true result is cached exactly
// as Instanceof would cache it.
func (e *Engine) TypeCheck(cache *vmregister.SubtypeTestCache, instance vmregister.Value, typ, instantiatorArgs vmregister.TypeArgs, loc TokenPosition, srcName, dstName, dstVar string) (vmregister.Value, error) {
	ok, err := e.Instanceof(cache, instance, typ, instantiatorArgs, loc)
	if err != nil {
		return vmregister.NilValue(), err
	}
	if !ok {
		return vmregister.NilValue(), e.Collab.Exceptions.CreateAndThrowTypeError(loc, srcName, dstName, dstVar, "")
	}
	return instance, nil
}

// NonBoolTypeError raises the diagnostic for a non-bool value used where
// a condition was required (an `if`/`while`/assert condition).
func (e *Engine) NonBoolTypeError(value vmregister.Value, loc TokenPosition) error {
	return e.Collab.Exceptions.CreateAndThrowTypeError(loc, vmregister.ValueType(value), "bool", "", "")
}

// BadTypeError raises the diagnostic for a malformed or malbounded
// destination type encountered during a type test.
func (e *Engine) BadTypeError(loc TokenPosition, dstName string, malformed bool, boundMsg string) error {
	kind := "malbounded"
	if malformed {
		kind = "malformed"
	}
	return e.Collab.Exceptions.CreateAndThrowTypeError(loc, "", dstName, kind, boundMsg)
}

// InstantiateType resolves a single uninstantiated type against an
// instantiator, as a standalone runtime entry rather than only through
// the inline cache protocol above — generated code has its own call
// site for a bare instantiation with no attached subtype test.
func (e *Engine) InstantiateType(uninstantiated, instantiator vmregister.TypeArgs) (vmregister.TypeArgs, error) {
	result, berr := e.Collab.ObjectModel.InstantiateFrom(uninstantiated, instantiator)
	if berr != nil {
		return vmregister.TypeArgs{}, e.Collab.Exceptions.CreateAndThrowTypeError(0, "", "", "", berr.Message)
	}
	return result, nil
}

// InstantiateTypeArguments is InstantiateType's vector-shaped sibling.
func (e *Engine) InstantiateTypeArguments(uninstantiated, instantiator vmregister.TypeArgs) (vmregister.TypeArgs, error) {
	return e.InstantiateType(uninstantiated, instantiator)
}

// instanceTypeArgsOf reads the type-argument vector attached to an
// instance at allocation time, or an empty Flat vector for non-generic
// values.
func instanceTypeArgsOf(v vmregister.Value) vmregister.TypeArgs {
	if !vmregister.IsInstance(v) {
		return vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat}
	}
	return vmregister.AsInstance(v).TypeArgs
}
