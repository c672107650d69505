package engine

import (
	"sync/atomic"

	"github.com/google/uuid"

	"sentra/internal/concurrency"
	"sentra/internal/vmregister"
)

// Isolate binds one Engine to the per-isolate state the engine itself
// never owns directly: a stable debug identity, the class-id registry,
// and the message/interrupt delivery primitives that belong to the
// isolate rather than the core. Multiple isolates run concurrently and
// share nothing but immutable metadata, so every field here is private
// to one Isolate.
type Isolate struct {
	ID uuid.UUID

	Engine      *Engine
	Classes     *vmregister.ClassRegistry
	Concurrency *concurrency.ConcurrencyModule

	// MessageHandler, set by the embedder, is invoked once per pending
	// message when PollStackOverflow observes InterruptMessage with a
	// non-empty queue. Nil means messages stay queued and the interrupt
	// keeps suppressing OSR until a handler is installed.
	MessageHandler func(interface{}) error

	// VMStatusCallback, set by the embedder, is invoked when
	// PollStackOverflow observes InterruptVMStatus. Nil means the
	// interrupt is left pending, same as before any callback existed.
	VMStatusCallback func()

	interruptBits uint32
}

const (
	messageQueueID  = "messages"
	traceLimiterID  = "trace-emit"
	osrSemaphoreID  = "osr-inflight"
	osrSemaphoreCap = 4
)

// NewIsolate constructs an Isolate with a fresh Engine bound to collab,
// a fresh class registry, and the message queue / rate limiter /
// semaphore every isolate needs regardless of which flags are set.
func NewIsolate(collab Collaborators) *Isolate {
	cm := concurrency.NewConcurrencyModule()
	cm.CreateTaskQueue(messageQueueID, 64)
	cm.CreateRateLimiter(traceLimiterID, 200, 50)
	cm.CreateSemaphore(osrSemaphoreID, osrSemaphoreCap)

	return &Isolate{
		ID:          uuid.New(),
		Engine:      New(collab),
		Classes:     vmregister.NewClassRegistry(),
		Concurrency: cm,
	}
}

// RegisterClass assigns a stable ClassID to class within this isolate's
// registry, the id every "owning class" lookup elsewhere assumes is
// stable for the isolate's lifetime.
func (iso *Isolate) RegisterClass(class *vmregister.ClassObj) vmregister.ClassID {
	return iso.Classes.Register(class)
}

// SetInterrupt atomically ORs bits into the pending interrupt mask;
// called from signal handlers or cross-isolate message delivery, never
// from inside a runtime entry itself.
func (iso *Isolate) SetInterrupt(bits InterruptBits) {
	for {
		old := atomic.LoadUint32(&iso.interruptBits)
		next := old | uint32(bits)
		if atomic.CompareAndSwapUint32(&iso.interruptBits, old, next) {
			return
		}
	}
}

// DrainInterrupts atomically reads and clears the pending interrupt
// mask — the stack-overflow entry's sole poll point: after this call,
// no interrupt can be double-dispatched by a second poll before a new
// one is raised.
func (iso *Isolate) DrainInterrupts() InterruptBits {
	old := atomic.SwapUint32(&iso.interruptBits, 0)
	return InterruptBits(old)
}

// PostMessage enqueues an inter-isolate message, setting the
// InterruptMessage bit so the next stack-overflow poll observes it.
func (iso *Isolate) PostMessage(data interface{}) error {
	if err := iso.Concurrency.EnqueueTask(messageQueueID, concurrency.Task{
		Kind:     concurrency.TaskMessage,
		Data:     data,
		Priority: concurrency.NormalPriority,
	}); err != nil {
		return err
	}
	iso.SetInterrupt(InterruptMessage)
	return nil
}

// NextMessage drains one pending message, if any, for whatever message
// handler the embedder installed; the core itself never inspects message
// payloads.
func (iso *Isolate) NextMessage() (interface{}, bool) {
	task, ok := iso.Concurrency.DrainOne(messageQueueID)
	if !ok {
		return nil, false
	}
	return task.Data, true
}

// AllowTrace reports whether a trace_* event may be emitted right now
// without exceeding the isolate's trace-emission rate limit. Neither
// emitTrace nor internal/tracesink consults it.
func (iso *Isolate) AllowTrace() bool {
	return iso.Concurrency.Allow(traceLimiterID)
}

// TryBeginOSR acquires one of a bounded number of concurrent OSR compile
// slots, returning false when all are taken. Neither StackOverflow nor
// PollStackOverflow acquires a slot, so OSR there is not bounded by it.
func (iso *Isolate) TryBeginOSR() bool {
	return iso.Concurrency.TryAcquire(osrSemaphoreID)
}

// EndOSR releases the slot acquired by TryBeginOSR.
func (iso *Isolate) EndOSR() {
	iso.Concurrency.Release(osrSemaphoreID)
}

// PollStackOverflow is the isolate-aware wrapper around Engine's
// StackOverflow runtime entry: it drains the interrupt mask itself so
// callers (the generated-code trampoline) only ever pass the frame and
// whether the stack pointer actually crossed the guard limit. Scavenge
// and API interrupts are dispatched by Engine.StackOverflow itself;
// message and VM-status interrupts are isolate-level concerns, so they
// are dispatched here before delegating.
func (iso *Isolate) PollStackOverflow(frame *vmregister.CallFrame, trueOverflow bool) (StackOverflowResult, error) {
	pending := iso.DrainInterrupts()

	if pending&InterruptMessage != 0 {
		if !iso.Concurrency.Pending(messageQueueID) {
			pending &^= InterruptMessage
		} else if iso.MessageHandler != nil {
			for {
				msg, ok := iso.NextMessage()
				if !ok {
					break
				}
				if err := iso.MessageHandler(msg); err != nil {
					return StackOverflowResult{}, err
				}
			}
			pending &^= InterruptMessage
		}
	}

	if pending&InterruptVMStatus != 0 && iso.VMStatusCallback != nil {
		iso.VMStatusCallback()
		pending &^= InterruptVMStatus
	}

	// Re-raise what no handler/callback dispatched so it stays pending
	// for the next poll.
	if undispatched := pending & (InterruptMessage | InterruptVMStatus); undispatched != 0 {
		iso.SetInterrupt(undispatched)
	}

	return iso.Engine.StackOverflow(frame, pending, trueOverflow)
}
