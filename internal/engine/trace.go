package engine

import "sentra/internal/vmregister"

// emitTrace is the gated entry point every other file's trace call sites
// go through: it costs nothing beyond a nil check and a flag read when
// tracing is off, so call sites never need their own guard.
func (e *Engine) emitTrace(on bool, kind, function string, classID vmregister.ClassID, pc int, detail string) {
	if !on || e.Collab.Trace == nil {
		return
	}
	e.Collab.Trace.Emit(kind, function, classID, pc, detail)
}

// TraceFunctionEntry is a per-call tracing entry, gated by
// TraceICMisses — the nearest existing flag to "trace call activity"
// in the trace_* family, since function-level tracing has no flag of
// its own.
func (e *Engine) TraceFunctionEntry(fn *vmregister.FunctionObj, frame *vmregister.CallFrame) {
	e.emitTrace(e.Flags.TraceICMisses, "function_entry", qualifiedName(fn), 0, frame.PC, "")
}

// TraceFunctionExit is TraceFunctionEntry's counterpart.
func (e *Engine) TraceFunctionExit(fn *vmregister.FunctionObj, frame *vmregister.CallFrame) {
	e.emitTrace(e.Flags.TraceICMisses, "function_exit", qualifiedName(fn), 0, frame.PC, "")
}

// TraceICCall is a diagnostic-only entry: emits one event per IC check
// consulted, regardless of hit or miss, for call sites under active
// observation.
func (e *Engine) TraceICCall(ic *vmregister.ICData, receiver vmregister.Value, hit bool) {
	detail := "miss"
	if hit {
		detail = "hit"
	}
	e.emitTrace(e.Flags.TraceICMisses, "ic_call", ic.TargetName, vmregister.ClassIDOf(receiver), 0, detail)
}
