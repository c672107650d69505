// Package concurrency provides the isolate-level message and interrupt
// delivery primitives the runtime-entry core delegates to: a
// priority task queue backing cross-isolate message interrupts, a rate
// limiter throttling trace-event emission, and a semaphore bounding
// concurrent OSR compilation attempts. None of this starts goroutines of
// its own: queued messages are drained on whichever mutator thread polls
// for interrupts, so the isolate can hand the core a drained,
// already-prioritized interrupt bit instead of the core reaching into
// goroutine machinery itself.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ConcurrencyModule owns every isolate-scoped concurrency primitive:
// message task queues, rate limiters, and semaphores. One instance per
// isolate, constructed alongside the isolate's Engine.
type ConcurrencyModule struct {
	TaskQueues   map[string]*TaskQueue
	RateLimiters map[string]*RateLimiter
	Semaphores   map[string]*Semaphore
	Metrics      *ConcurrencyMetrics
	mu           sync.RWMutex
}

// TaskQueue is a priority message queue: isolate-to-isolate messages and
// deferred API-interrupt callbacks are enqueued here and drained by the
// single mutator thread at the next stack-overflow/interrupt poll point,
// never processed on a separate goroutine.
type TaskQueue struct {
	ID      string
	High    chan Task
	Normal  chan Task
	Low     chan Task
	Running bool
	mu      sync.RWMutex
}

// Task is a queued unit of isolate work: a cross-isolate message payload
// or a deferred callback, never a Dart-visible value (the core never
// inspects Data; it exists purely for diagnostics and dispatch).
type Task struct {
	ID       string
	Kind     TaskKind
	Data     interface{}
	Priority TaskPriority
	Created  time.Time
}

// TaskKind distinguishes the handful of isolate-level events the task
// queue carries.
type TaskKind int

const (
	TaskMessage TaskKind = iota
	TaskAPICallback
	TaskGCRequest
)

// TaskPriority defines dequeue order; CriticalPriority and HighPriority
// share the High channel, while Normal and Low each have their own, as
// documented on EnqueueTask.
type TaskPriority int

const (
	LowPriority TaskPriority = iota
	NormalPriority
	HighPriority
	CriticalPriority
)

// RateLimiter controls the rate of operations; used by the trace sink to
// avoid flooding attached observers when trace_* flags are on for a hot
// call site.
type RateLimiter struct {
	ID         string
	Rate       int // operations per second
	Burst      int
	Interval   time.Duration
	Tokens     chan struct{}
	LastRefill time.Time
	mu         sync.Mutex
}

// Semaphore bounds concurrent OSR compilation attempts per isolate: OSR
// requests arrive from the stack-overflow entry on whichever mutator
// thread is running, and a runaway hot loop should not be allowed to
// queue unbounded concurrent optimized-compile requests against the
// compiler collaborator.
type Semaphore struct {
	ID       string
	Capacity int
	Current  int64
	ch       chan struct{}
}

// ConcurrencyMetrics tracks queue/limiter activity for diagnostics.
type ConcurrencyMetrics struct {
	TasksQueued    int64
	TasksDequeued  int64
	RateLimitWaits int64
	mu             sync.RWMutex
}

// NewConcurrencyModule creates an isolate's concurrency module.
func NewConcurrencyModule() *ConcurrencyModule {
	return &ConcurrencyModule{
		TaskQueues:   make(map[string]*TaskQueue),
		RateLimiters: make(map[string]*RateLimiter),
		Semaphores:   make(map[string]*Semaphore),
		Metrics:      &ConcurrencyMetrics{},
	}
}

// CreateTaskQueue creates a prioritized message queue.
func (cm *ConcurrencyModule) CreateTaskQueue(id string, bufferSize int) (*TaskQueue, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.TaskQueues[id]; exists {
		return nil, fmt.Errorf("task queue already exists: %s", id)
	}

	queue := &TaskQueue{
		ID:      id,
		High:    make(chan Task, bufferSize),
		Normal:  make(chan Task, bufferSize),
		Low:     make(chan Task, bufferSize),
		Running: true,
	}
	cm.TaskQueues[id] = queue
	return queue, nil
}

// EnqueueTask adds a message to the queue; CriticalPriority and
// HighPriority share the High channel since both demand draining before
// any Normal/Low work.
func (cm *ConcurrencyModule) EnqueueTask(queueID string, task Task) error {
	cm.mu.RLock()
	queue, exists := cm.TaskQueues[queueID]
	cm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("task queue not found: %s", queueID)
	}

	var target chan Task
	switch task.Priority {
	case CriticalPriority, HighPriority:
		target = queue.High
	case LowPriority:
		target = queue.Low
	default:
		target = queue.Normal
	}

	select {
	case target <- task:
		atomic.AddInt64(&cm.Metrics.TasksQueued, 1)
		return nil
	default:
		return fmt.Errorf("task queue full: %s", queueID)
	}
}

// DrainOne pops the highest-priority pending message without blocking,
// the shape the stack-overflow entry's message-interrupt branch needs: a
// single drained item per poll, never a channel read that could block
// the mutator thread.
func (cm *ConcurrencyModule) DrainOne(queueID string) (Task, bool) {
	cm.mu.RLock()
	queue, exists := cm.TaskQueues[queueID]
	cm.mu.RUnlock()
	if !exists {
		return Task{}, false
	}

	select {
	case t := <-queue.High:
		atomic.AddInt64(&cm.Metrics.TasksDequeued, 1)
		return t, true
	default:
	}
	select {
	case t := <-queue.Normal:
		atomic.AddInt64(&cm.Metrics.TasksDequeued, 1)
		return t, true
	default:
	}
	select {
	case t := <-queue.Low:
		atomic.AddInt64(&cm.Metrics.TasksDequeued, 1)
		return t, true
	default:
		return Task{}, false
	}
}

// Pending reports whether any message is queued, the check the
// stack-overflow entry makes before deciding InterruptMessage is set.
func (cm *ConcurrencyModule) Pending(queueID string) bool {
	cm.mu.RLock()
	queue, exists := cm.TaskQueues[queueID]
	cm.mu.RUnlock()
	if !exists {
		return false
	}
	return len(queue.High)+len(queue.Normal)+len(queue.Low) > 0
}

// CreateRateLimiter creates a token-bucket limiter.
func (cm *ConcurrencyModule) CreateRateLimiter(id string, rate, burst int) (*RateLimiter, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if rate <= 0 {
		return nil, fmt.Errorf("rate must be positive")
	}

	rl := &RateLimiter{
		ID:         id,
		Rate:       rate,
		Burst:      burst,
		Interval:   time.Second / time.Duration(rate),
		Tokens:     make(chan struct{}, burst),
		LastRefill: time.Now(),
	}
	for i := 0; i < burst; i++ {
		rl.Tokens <- struct{}{}
	}
	cm.RateLimiters[id] = rl
	return rl, nil
}

// Allow reports whether a token is immediately available, refilling
// lazily based on elapsed time rather than running a background ticker
// goroutine — the core must never spawn background work of its own.
func (cm *ConcurrencyModule) Allow(limiterID string) bool {
	cm.mu.RLock()
	rl, exists := cm.RateLimiters[limiterID]
	cm.mu.RUnlock()
	if !exists {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	elapsed := time.Since(rl.LastRefill)
	refills := int(elapsed / rl.Interval)
	for i := 0; i < refills; i++ {
		select {
		case rl.Tokens <- struct{}{}:
		default:
		}
	}
	if refills > 0 {
		rl.LastRefill = time.Now()
	}

	select {
	case <-rl.Tokens:
		return true
	default:
		atomic.AddInt64(&cm.Metrics.RateLimitWaits, 1)
		return false
	}
}

// CreateSemaphore creates a bounded-concurrency gate.
func (cm *ConcurrencyModule) CreateSemaphore(id string, capacity int) (*Semaphore, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	sem := &Semaphore{ID: id, Capacity: capacity, ch: make(chan struct{}, capacity)}
	cm.Semaphores[id] = sem
	return sem, nil
}

// TryAcquire attempts a non-blocking acquire, used to cap concurrent OSR
// compile requests without ever parking the mutator thread.
func (cm *ConcurrencyModule) TryAcquire(semID string) bool {
	cm.mu.RLock()
	sem, exists := cm.Semaphores[semID]
	cm.mu.RUnlock()
	if !exists {
		return false
	}

	select {
	case sem.ch <- struct{}{}:
		atomic.AddInt64(&sem.Current, 1)
		return true
	default:
		return false
	}
}

// Release releases a previously acquired semaphore permit.
func (cm *ConcurrencyModule) Release(semID string) error {
	cm.mu.RLock()
	sem, exists := cm.Semaphores[semID]
	cm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("semaphore not found: %s", semID)
	}

	select {
	case <-sem.ch:
		atomic.AddInt64(&sem.Current, -1)
		return nil
	default:
		return fmt.Errorf("semaphore not acquired: %s", semID)
	}
}

// Acquire blocks (with timeout) for a semaphore permit; kept for callers
// outside the core's own synchronous entries, e.g. a host embedder
// waiting to submit the next OSR request.
func (cm *ConcurrencyModule) Acquire(semID string, timeout time.Duration) error {
	cm.mu.RLock()
	sem, exists := cm.Semaphores[semID]
	cm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("semaphore not found: %s", semID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case sem.ch <- struct{}{}:
		atomic.AddInt64(&sem.Current, 1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("semaphore acquisition timeout: %s", semID)
	}
}

// GetMetrics returns current queue/limiter activity counters.
func (cm *ConcurrencyModule) GetMetrics() *ConcurrencyMetrics {
	cm.Metrics.mu.RLock()
	defer cm.Metrics.mu.RUnlock()
	return &ConcurrencyMetrics{
		TasksQueued:    atomic.LoadInt64(&cm.Metrics.TasksQueued),
		TasksDequeued:  atomic.LoadInt64(&cm.Metrics.TasksDequeued),
		RateLimitWaits: atomic.LoadInt64(&cm.Metrics.RateLimitWaits),
	}
}
