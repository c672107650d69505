package engine

import (
	"testing"

	"sentra/internal/vmregister"
)

func testIsolate() *Isolate {
	return NewIsolate(Collaborators{
		Exceptions:  NewStdExceptions(),
		ObjectModel: noopObjectModel{},
		Heap:        &countingHeap{},
	})
}

func TestNewIsolateHasStableID(t *testing.T) {
	iso := testIsolate()
	if iso.ID.String() == "" {
		t.Fatalf("expected a non-empty isolate id")
	}
	if iso.Engine == nil || iso.Classes == nil || iso.Concurrency == nil {
		t.Fatalf("expected NewIsolate to wire up an Engine, class registry, and concurrency module")
	}
}

func TestRegisterClassDedupesByName(t *testing.T) {
	iso := testIsolate()
	a := &vmregister.ClassObj{Name: "Point"}
	b := &vmregister.ClassObj{Name: "Point"}

	idA := iso.RegisterClass(a)
	idB := iso.RegisterClass(b)
	if idA != idB {
		t.Errorf("expected two classes with the same name to receive the same id, got %d and %d", idA, idB)
	}
}

func TestSetInterruptAndDrainInterrupts(t *testing.T) {
	iso := testIsolate()
	iso.SetInterrupt(InterruptScavenge)
	iso.SetInterrupt(InterruptAPI)

	got := iso.DrainInterrupts()
	if got&InterruptScavenge == 0 || got&InterruptAPI == 0 {
		t.Fatalf("expected both interrupt bits to be set, got %v", got)
	}

	again := iso.DrainInterrupts()
	if again != 0 {
		t.Errorf("expected a second drain to find nothing pending, got %v", again)
	}
}

func TestPostMessageAndNextMessage(t *testing.T) {
	iso := testIsolate()
	if err := iso.PostMessage("hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	pending := iso.DrainInterrupts()
	if pending&InterruptMessage == 0 {
		t.Fatalf("expected PostMessage to set the message interrupt bit")
	}

	msg, ok := iso.NextMessage()
	if !ok {
		t.Fatalf("expected a pending message")
	}
	if msg != "hello" {
		t.Errorf("NextMessage() = %v, want %q", msg, "hello")
	}

	if _, ok := iso.NextMessage(); ok {
		t.Errorf("expected no message left after draining the only one")
	}
}

func TestAllowTraceRespectsBurst(t *testing.T) {
	iso := testIsolate()
	allowed := 0
	for i := 0; i < 1000; i++ {
		if iso.AllowTrace() {
			allowed++
		}
	}
	if allowed == 0 {
		t.Fatalf("expected at least the initial burst to be allowed")
	}
	if allowed >= 1000 {
		t.Errorf("expected the rate limiter to eventually refuse, got %d/1000 allowed", allowed)
	}
}

func TestTryBeginOSRRespectsCapacity(t *testing.T) {
	iso := testIsolate()
	acquired := 0
	for i := 0; i < 100; i++ {
		if iso.TryBeginOSR() {
			acquired++
		}
	}
	if acquired != osrSemaphoreCap {
		t.Fatalf("acquired %d OSR slots, want the configured capacity %d", acquired, osrSemaphoreCap)
	}
	iso.EndOSR()
	if !iso.TryBeginOSR() {
		t.Errorf("expected a slot to be available after EndOSR released one")
	}
}

func TestPollStackOverflowClearsStaleMessageBit(t *testing.T) {
	iso := testIsolate()
	iso.SetInterrupt(InterruptMessage)

	frame := &vmregister.CallFrame{}
	result, err := iso.PollStackOverflow(frame, false)
	if err != nil {
		t.Fatalf("PollStackOverflow: %v", err)
	}
	if result.Overflowed {
		t.Errorf("expected no overflow when trueOverflow is false")
	}
}

func TestPollStackOverflowDispatchesPendingMessages(t *testing.T) {
	iso := testIsolate()
	var received []interface{}
	iso.MessageHandler = func(msg interface{}) error {
		received = append(received, msg)
		return nil
	}

	if err := iso.PostMessage("hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if err := iso.PostMessage("world"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	if _, err := iso.PollStackOverflow(&vmregister.CallFrame{}, false); err != nil {
		t.Fatalf("PollStackOverflow: %v", err)
	}
	if len(received) != 2 || received[0] != "hello" || received[1] != "world" {
		t.Errorf("MessageHandler received %v, want [hello world]", received)
	}
	if _, ok := iso.NextMessage(); ok {
		t.Errorf("expected the message queue to be fully drained by PollStackOverflow")
	}
}

func TestPollStackOverflowLeavesMessageBitWithoutHandler(t *testing.T) {
	iso := testIsolate()
	if err := iso.PostMessage("hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	result, err := iso.PollStackOverflow(&vmregister.CallFrame{}, false)
	if err != nil {
		t.Fatalf("PollStackOverflow: %v", err)
	}
	if result.OSRApplied {
		t.Errorf("a pending message with no handler installed should still suppress OSR")
	}
	if _, ok := iso.NextMessage(); !ok {
		t.Errorf("expected the message to remain queued with no handler installed")
	}
}

func TestPollStackOverflowDispatchesVMStatusCallback(t *testing.T) {
	iso := testIsolate()
	called := false
	iso.VMStatusCallback = func() { called = true }
	iso.SetInterrupt(InterruptVMStatus)

	if _, err := iso.PollStackOverflow(&vmregister.CallFrame{}, false); err != nil {
		t.Fatalf("PollStackOverflow: %v", err)
	}
	if !called {
		t.Errorf("expected the VM-status callback to be invoked")
	}
}
