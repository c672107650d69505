package engine

import "sentra/internal/vmregister"

// Arguments is the marshalled argument vector a runtime entry receives:
// positionally indexable, independent of whatever register/stack layout
// the caller used to build it. Leaf entries (bigint_compare, the two
// deopt-copy/fill phases) bypass this and take raw values directly.
type Arguments struct {
	values []vmregister.Value
	ret    vmregister.Value
}

// NewArguments wraps a prebuilt argument slice.
func NewArguments(values []vmregister.Value) *Arguments {
	return &Arguments{values: values}
}

// ArgAt returns the Nth argument, or nil if out of range — runtime
// entries are generated against a fixed declared arity, so an
// out-of-range read here indicates a caller/callee arity mismatch the
// entry should treat as a bug, not a recoverable error.
func (a *Arguments) ArgAt(n int) vmregister.Value {
	if n < 0 || n >= len(a.values) {
		return vmregister.NilValue()
	}
	return a.values[n]
}

// Count returns the number of marshalled arguments.
func (a *Arguments) Count() int {
	return len(a.values)
}

// SetReturn is the single sink every runtime entry writes its result
// through, mirroring the one-in/one-out calling convention generated code
// expects at a runtime-entry call site.
func (a *Arguments) SetReturn(v vmregister.Value) {
	a.ret = v
}

// Return reads back whatever SetReturn last stored.
func (a *Arguments) Return() vmregister.Value {
	return a.ret
}
