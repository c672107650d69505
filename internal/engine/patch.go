package engine

import (
	"errors"

	"sentra/internal/vmregister"
)

// ErrNoopPatch is returned by PatchStaticCall when asked to install the
// currently-installed target — patching is required to be monotone, and
// such a call is a caller bug rather than a silently-ignored request.
var ErrNoopPatch = errors.New("engine: static call already points at target")

// PatchStaticCall rewrites the call-site immediate at pc in callerCode to
// point at target's current entry point and records target into the
// caller's static-call-target table.
func (e *Engine) PatchStaticCall(callerCode *vmregister.CodeObj, pc int, target *vmregister.FunctionObj) error {
	existing := callerCode.StaticCallTargets[pc]
	if existing != nil && existing.Function == target && existing.Code == target.CurrentCode {
		return ErrNoopPatch
	}

	newTarget := &vmregister.StaticCallTarget{Function: target, Code: target.CurrentCode}
	if err := e.Collab.Patcher.PatchStaticCallAt(pc, callerCode, target.CurrentCode.Entry); err != nil {
		return err
	}
	callerCode.StaticCallTargets[pc] = newTarget
	e.emitTrace(e.Flags.TracePatching, "patch", qualifiedName(target), 0, pc, "")
	return nil
}

// FixCallersTarget is invoked the first time execution goes through a
// stale static-call site, after its target's code was detached. It walks
// the stack past stub/entry frames to the first managed frame, recovers
// the target function from that frame's own static-call-target record,
// reattaches code, and patches.
func (e *Engine) FixCallersTarget(topFrame *vmregister.CallFrame) error {
	walker := NewStackWalker(topFrame)
	caller := walker.FindFirstManagedCaller()
	if caller == nil {
		return errors.New("engine: FixCallersTarget found no managed caller frame")
	}

	target := e.Collab.Patcher.GetUnoptimizedStaticCallAt(caller.PC, caller.Code)
	if target == nil {
		return errors.New("engine: FixCallersTarget found no static call target")
	}

	if target.CurrentCode == nil || !target.CurrentCode.Alive {
		// The target's optimized code was detached; fall back to its
		// always-valid unoptimized code rather than recompiling eagerly.
		target.CurrentCode = target.UnoptimizedCode
	}

	return e.PatchStaticCall(caller.Code, caller.PC, target)
}
