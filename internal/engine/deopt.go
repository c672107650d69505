package engine

import (
	"fmt"

	"sentra/internal/vmregister"
)

// DeoptContext is the transient, per-Engine deoptimization state: it
// exists (non-nil on the Engine) only between the copy phase and the
// materialize phase of one deopt sequence. Only one sequence may be in
// flight at a time.
type DeoptContext struct {
	SavedRegisters []vmregister.Value
	SourceFrame    *vmregister.CallFrame
	DestFrame      *vmregister.CallFrame
	Deferred       []deferredObject
}

// deferredObject is a materialization placeholder: an allocation the
// optimizer proved would happen, deferred until the materialize phase
// actually has a heap to allocate into. DeoptimizeFillFrame never creates
// one, since no DeoptSlotKind describes a deferred object, so
// DeoptContext.Deferred stays empty.
type deferredObject struct {
	class    *vmregister.ClassObj
	slotVals []vmregister.Value
	destSlot int // slot in DestFrame.Registers to patch once allocated
}

// DeoptInProgress reports whether a deopt context is currently
// installed.
func (e *Engine) DeoptInProgress() bool {
	return e.deopt != nil
}

// DeoptimizeCopyFrame is the leaf, non-allocating copy phase. It receives
// the saved register buffer from the lazy-deopt stub, walks back to the
// optimized frame, installs the Engine's DeoptContext, and returns the
// byte delta by which the rebuilt unoptimized frame will exceed the
// optimized frame's stack footprint.
func (e *Engine) DeoptimizeCopyFrame(savedRegisters []vmregister.Value, sourceFrame *vmregister.CallFrame) (int, error) {
	if e.deopt != nil {
		return 0, fmt.Errorf("engine: deopt already in progress on this thread")
	}
	descriptor := deoptDescriptorFor(sourceFrame)
	if descriptor == nil {
		return 0, fmt.Errorf("engine: no deopt descriptor for pc %d", sourceFrame.PC)
	}

	e.deopt = &DeoptContext{
		SavedRegisters: append([]vmregister.Value(nil), savedRegisters...),
		SourceFrame:    sourceFrame,
	}

	delta := descriptor.FrameSize - len(sourceFrame.Registers)
	if delta < 0 {
		delta = 0
	}
	return delta, nil
}

// DeoptimizeFillFrame is the leaf, non-allocating fill phase. It runs
// after the stub has widened the stack, and fills the destination
// frame's registers from the optimized frame, the saved register buffer,
// and the faulting pc's deopt descriptor. It records no deferred
// (allocation-requiring) objects: every descriptor slot is a register,
// constant, or caller-frame copy.
func (e *Engine) DeoptimizeFillFrame(destFrame *vmregister.CallFrame) error {
	if e.deopt == nil {
		return fmt.Errorf("engine: DeoptimizeFillFrame called with no deopt in progress")
	}
	descriptor := deoptDescriptorFor(e.deopt.SourceFrame)
	if descriptor == nil {
		return fmt.Errorf("engine: no deopt descriptor for pc %d", e.deopt.SourceFrame.PC)
	}

	dest := make([]vmregister.Value, descriptor.FrameSize)
	for _, slot := range descriptor.Slots {
		switch slot.Kind {
		case vmregister.DeoptFromRegister:
			if slot.SrcIndex >= 0 && slot.SrcIndex < len(e.deopt.SourceFrame.Registers) {
				dest[slot.DestReg] = e.deopt.SourceFrame.Registers[slot.SrcIndex]
			}
		case vmregister.DeoptFromConstant:
			dest[slot.DestReg] = slot.Constant
		case vmregister.DeoptFromCallerFrame:
			if e.deopt.SourceFrame.Caller != nil && slot.SrcIndex < len(e.deopt.SourceFrame.Caller.Registers) {
				dest[slot.DestReg] = e.deopt.SourceFrame.Caller.Registers[slot.SrcIndex]
			}
		}
	}

	destFrame.Registers = dest
	destFrame.Function = e.deopt.SourceFrame.Function
	destFrame.Code = e.deopt.SourceFrame.Function.UnoptimizedCode
	e.deopt.DestFrame = destFrame
	return nil
}

// DeoptimizeMaterialize is the normal, allocation-capable materialize
// phase: it allocates every object in DeoptContext.Deferred, patches
// references to them into the destination frame, tears down the
// DeoptContext, and returns the number of synthetic-argument bytes the
// stub must strip from the expression stack. The fill phase leaves
// Deferred empty, so in this package it allocates nothing and returns 0.
func (e *Engine) DeoptimizeMaterialize() (int, error) {
	if e.deopt == nil {
		return 0, fmt.Errorf("engine: DeoptimizeMaterialize called with no deopt in progress")
	}
	ctx := e.deopt
	for _, d := range ctx.Deferred {
		v, err := e.AllocateObject(d.class, NoInstantiator, NoInstantiator)
		if err != nil {
			e.deopt = nil
			return 0, err
		}
		if ctx.DestFrame != nil && d.destSlot < len(ctx.DestFrame.Registers) {
			ctx.DestFrame.Registers[d.destSlot] = v
		}
	}
	strippedBytes := len(ctx.Deferred) * 8
	e.deopt = nil
	return strippedBytes, nil
}

func deoptDescriptorFor(frame *vmregister.CallFrame) *vmregister.DeoptDescriptor {
	if frame == nil || frame.Code == nil {
		return nil
	}
	id, ok := frame.Code.DeoptIDTable[frame.PC]
	if !ok {
		return nil
	}
	return frame.Code.DeoptTable[id]
}

// lazyDeoptStub is the EntryPoint a deoptimized call site is patched to:
// invoking it drives the Copy, Fill, and Materialize phases in sequence
// against the faulting frame it is called with, then resumes execution
// in the rebuilt unoptimized frame rather than returning an error.
func (e *Engine) lazyDeoptStub() vmregister.EntryPoint {
	return func(frame *vmregister.CallFrame, args []vmregister.Value) (vmregister.Value, error) {
		if _, err := e.DeoptimizeCopyFrame(frame.Registers, frame); err != nil {
			return vmregister.NilValue(), err
		}
		dest := &vmregister.CallFrame{Caller: frame.Caller}
		if err := e.DeoptimizeFillFrame(dest); err != nil {
			return vmregister.NilValue(), err
		}
		if _, err := e.DeoptimizeMaterialize(); err != nil {
			return vmregister.NilValue(), err
		}
		if dest.Code == nil || dest.Code.Entry == nil {
			return vmregister.NilValue(), fmt.Errorf("engine: rebuilt frame after deopt has no unoptimized entry to resume")
		}
		return dest.Code.Entry(dest, args)
	}
}

// DeoptimizeAt schedules lazy deoptimization of one optimized code
// object: marks it dead (so GC may skip its embedded objects), patches
// the call at pc to its LazyDeoptJump stub, and swaps the owning function
// back to unoptimized code if it still points at this code. Idempotent.
func (e *Engine) DeoptimizeAt(code *vmregister.CodeObj, pc int, owner *vmregister.FunctionObj) error {
	if !code.Alive {
		return nil // already deoptimized
	}
	if code.LazyDeoptJump == 0 {
		return fmt.Errorf("engine: optimized code has no lazy-deopt jump installed")
	}
	code.Alive = false
	// The call site is patched once: a repeat call finds code.Alive
	// already false and returns above without patching again.
	if err := e.Collab.Patcher.PatchStaticCallAt(pc, code, e.lazyDeoptStub()); err != nil {
		return err
	}
	if owner != nil && owner.CurrentCode == code {
		owner.CurrentCode = owner.UnoptimizedCode
	}
	name := ""
	if owner != nil {
		name = qualifiedName(owner)
	}
	e.emitTrace(e.Flags.TraceDeoptimization, "deoptimize", name, 0, code.LazyDeoptJump, "")
	return nil
}

// DeoptimizeAll applies DeoptimizeAt to every optimized frame reachable
// from top.
func (e *Engine) DeoptimizeAll(top *vmregister.CallFrame) error {
	for _, frame := range NewStackWalker(top).Frames() {
		if frame.Code == nil || !frame.Code.Optimized || !frame.Code.Alive {
			continue
		}
		if err := e.DeoptimizeAt(frame.Code, frame.PC, frame.Function); err != nil {
			return err
		}
	}
	return nil
}

// DeoptimizeIfOwner is DeoptimizeAll restricted to frames whose owning
// class id is in classes, used after class-hierarchy invalidations.
func (e *Engine) DeoptimizeIfOwner(top *vmregister.CallFrame, classes map[vmregister.ClassID]bool) error {
	for _, frame := range NewStackWalker(top).Frames() {
		if frame.Code == nil || !frame.Code.Optimized || !frame.Code.Alive {
			continue
		}
		if frame.Function == nil || frame.Function.OwningClass == nil {
			continue
		}
		if !classes[frame.Function.OwningClass.ID] {
			continue
		}
		if err := e.DeoptimizeAt(frame.Code, frame.PC, frame.Function); err != nil {
			return err
		}
	}
	return nil
}
