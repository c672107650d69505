package engine

import "sentra/internal/vmregister"

// BreakpointRuntimeHandler is the entry a patched runtime-call stub jumps
// to when the debugger has installed a breakpoint over it. It signals the
// hit and returns the address execution should actually resume at once
// the debugger releases it (the stub's real target, with the breakpoint
// trap removed).
func (e *Engine) BreakpointRuntimeHandler(pc int) int {
	if e.Collab.Debugger == nil {
		return pc
	}
	e.Collab.Debugger.SignalBpReached()
	return e.Collab.Debugger.GetPatchedStubAddress(pc)
}

// BreakpointStaticHandler is the static-call-site counterpart: generated
// code calls here instead of straight to fn whenever fn carries a
// breakpoint, so the check only costs anything at sites the debugger
// actually cares about.
func (e *Engine) BreakpointStaticHandler(fn *vmregister.FunctionObj, pc int) int {
	if e.Collab.Debugger == nil || !e.Collab.Debugger.HasBreakpoint(fn) {
		return pc
	}
	e.Collab.Debugger.SignalBpReached()
	return e.Collab.Debugger.GetPatchedStubAddress(pc)
}

// BreakpointDynamicHandler is BreakpointStaticHandler's instance-call
// form, reached from the IC miss path once a target has resolved rather
// than from a static call immediate.
func (e *Engine) BreakpointDynamicHandler(fn *vmregister.FunctionObj, pc int) int {
	return e.BreakpointStaticHandler(fn, pc)
}

// BreakpointReturnHandler fires on return from a frame the debugger asked
// to be notified about (set after a "finish" command), independent of
// whether the callee itself had any breakpoint.
func (e *Engine) BreakpointReturnHandler() {
	if e.Collab.Debugger == nil {
		return
	}
	e.Collab.Debugger.SignalBpReached()
}

// SingleStepHandler is polled at every managed-code safepoint while
// single-stepping is active; it is a no-op the instant stepping is
// turned off, so generated code can leave the poll in place rather than
// patching it out.
func (e *Engine) SingleStepHandler() {
	if e.Collab.Debugger == nil || !e.Collab.Debugger.IsStepping() {
		return
	}
	e.Collab.Debugger.SingleStepCallback()
}
