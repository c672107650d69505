package engine

import "sentra/internal/vmregister"

// StackWalker iterates managed frames starting at a given top frame.
// Stepping (Next, Done, Frame, PC, Code, Function) never allocates, so it
// is safe to use during the deopt copy phase, where GC must not run;
// Frames allocates the slice it returns.
type StackWalker struct {
	frame *vmregister.CallFrame
}

// NewStackWalker starts a walk at the given frame (the current thread's
// topmost managed frame in the common case, or a caller-supplied frame
// for deopt).
func NewStackWalker(top *vmregister.CallFrame) *StackWalker {
	return &StackWalker{frame: top}
}

// Done reports whether the walk has exhausted all managed frames.
func (w *StackWalker) Done() bool {
	return w.frame == nil
}

// Frame returns the current frame without advancing.
func (w *StackWalker) Frame() *vmregister.CallFrame {
	return w.frame
}

// PC returns the current frame's program counter.
func (w *StackWalker) PC() int {
	if w.frame == nil {
		return -1
	}
	return w.frame.PC
}

// Code returns the current frame's owning code object.
func (w *StackWalker) Code() *vmregister.CodeObj {
	if w.frame == nil {
		return nil
	}
	return w.frame.Code
}

// Function returns the current frame's owning function.
func (w *StackWalker) Function() *vmregister.FunctionObj {
	if w.frame == nil {
		return nil
	}
	return w.frame.Function
}

// Next advances to the caller frame.
func (w *StackWalker) Next() {
	if w.frame == nil {
		return
	}
	w.frame = w.frame.Caller
}

// FindFirstManagedCaller walks past frames with no owning Function (stub
// and entry frames) to the first real managed frame, used by
// FixCallersTarget to recover the caller of a stale static-call site.
func (w *StackWalker) FindFirstManagedCaller() *vmregister.CallFrame {
	for f := w.frame; f != nil; f = f.Caller {
		if f.Function != nil {
			return f
		}
	}
	return nil
}

// Frames collects every frame, stub and entry frames included, from the
// current position to the bottom of the stack. Used by
// DeoptimizeAll/DeoptimizeIfOwner, which filter it for optimized frames.
func (w *StackWalker) Frames() []*vmregister.CallFrame {
	var out []*vmregister.CallFrame
	for f := w.frame; f != nil; f = f.Caller {
		out = append(out, f)
	}
	return out
}
