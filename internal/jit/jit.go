// Package jit is a fixture Compiler: it satisfies engine.Compiler by
// driving the same tiered profiling and loop-template detection a real
// optimizing backend would use to decide what to compile, but produces
// its optimized CodeObj by recognizing a small family of integer loop
// shapes rather than emitting machine code. It exists so the
// runtime-entry core has a real, exercised collaborator to call through
// for demonstration and testing; wiring an actual bytecode-to-native
// backend behind engine.Compiler is out of scope.
package jit

import (
	"fmt"
	"sync"

	"sentra/internal/vmregister"
)

// CompilationTier represents JIT compilation tiers.
type CompilationTier int

const (
	TierInterpreted CompilationTier = iota
	TierQuickJIT                    // Tier 1: quick compilation after ~100 calls
	TierOptimized                   // Tier 2: full optimization after ~1000 calls
)

// TemplateType is the recognized shape of a loop body.
type TemplateType int

const (
	TemplateUnknown TemplateType = iota
	TemplateCounter              // simple counting loop
	TemplateSum                  // sum accumulation
	TemplateProduct              // product accumulation
	TemplateCountDown            // countdown loop
)

// Thresholds for tiered compilation.
const (
	Tier1Threshold    = 100 // quick JIT after 100 calls
	Tier2Threshold    = 1000
	HotLoopThreshold  = 50 // compile loop after 50 iterations
	InlineSizeLimit   = 32 // max instructions for inlining
)

// Loop template kinds, the form ExecuteIntLoop dispatches on.
const (
	LoopCountUp = iota
	LoopCountDown
	LoopSum
	LoopProduct
	LoopGeneric
)

// IntLoopCode is a compiled integer-only loop: enough register indices
// and a template tag for ExecuteIntLoop to run the loop directly on a
// frame's register slice instead of interpreting it instruction by
// instruction.
type IntLoopCode struct {
	CounterReg int
	LimitReg   int
	StepReg    int
	AccumReg   int
	Template   int
	StartPC    int
	EndPC      int
}

// TypeFeedback records the class ids observed at one call site, the
// input a real optimizer would use to decide whether a monomorphic fast
// path is safe.
type TypeFeedback struct {
	SeenClasses  [4]vmregister.ClassID
	Counts       [4]uint32
	TotalSamples uint32
}

// Profiler tracks per-function call counts, per-loop iteration counts,
// and per-pc type feedback, the three inputs RecordCall/RecordLoop/
// RecordType turn into tiering decisions.
type Profiler struct {
	mu           sync.RWMutex
	callCounts   map[*vmregister.FunctionObj]uint32
	loopCounts   map[uint32]uint32
	typeFeedback map[int]*TypeFeedback
	hotFunctions map[*vmregister.FunctionObj]bool
	hotLoops     map[uint32]bool
}

// NewProfiler creates a new JIT profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		callCounts:   make(map[*vmregister.FunctionObj]uint32),
		loopCounts:   make(map[uint32]uint32),
		typeFeedback: make(map[int]*TypeFeedback),
		hotFunctions: make(map[*vmregister.FunctionObj]bool),
		hotLoops:     make(map[uint32]bool),
	}
}

// RecordCall records a function invocation and reports whether the
// caller should request compilation, and at which tier.
func (p *Profiler) RecordCall(fn *vmregister.FunctionObj) (shouldCompile bool, tier CompilationTier) {
	if fn == nil {
		return false, TierInterpreted
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.callCounts[fn]++
	count := p.callCounts[fn]

	if p.hotFunctions[fn] {
		return false, TierInterpreted
	}
	if count >= Tier2Threshold {
		p.hotFunctions[fn] = true
		return true, TierOptimized
	}
	if count >= Tier1Threshold {
		return true, TierQuickJIT
	}
	return false, TierInterpreted
}

// RecordLoop records one loop iteration and reports whether the loop has
// just crossed the hot-loop threshold.
func (p *Profiler) RecordLoop(loopID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loopCounts[loopID]++
	count := p.loopCounts[loopID]

	if p.hotLoops[loopID] {
		return false
	}
	if count >= HotLoopThreshold {
		p.hotLoops[loopID] = true
		return true
	}
	return false
}

// RecordType records the receiver class observed at pc, the same
// feedback InlineCacheMissHandler's AddCheck accumulates, kept here too
// so a future optimizer has loop-level (not just call-level) feedback.
func (p *Profiler) RecordType(pc int, cid vmregister.ClassID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tf := p.typeFeedback[pc]
	if tf == nil {
		tf = &TypeFeedback{}
		p.typeFeedback[pc] = tf
	}
	tf.TotalSamples++
	for i := 0; i < 4; i++ {
		if tf.SeenClasses[i] == cid || tf.Counts[i] == 0 {
			tf.SeenClasses[i] = cid
			tf.Counts[i]++
			return
		}
	}
}

// GetTypeFeedback returns the recorded feedback for pc, or nil.
func (p *Profiler) GetTypeFeedback(pc int) *TypeFeedback {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.typeFeedback[pc]
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callCounts = make(map[*vmregister.FunctionObj]uint32)
	p.loopCounts = make(map[uint32]uint32)
	p.typeFeedback = make(map[int]*TypeFeedback)
	p.hotFunctions = make(map[*vmregister.FunctionObj]bool)
	p.hotLoops = make(map[uint32]bool)
}

// LoopAnalysis is the result of scanning one candidate loop body for a
// recognized integer template.
type LoopAnalysis struct {
	MatchedTemplate TemplateType
	StartPC         int
	EndPC           int
	CounterReg      int
	LimitReg        int
	StepReg         int
	AccumReg        int
	LoopID          uint32
	IntLoopCode     *IntLoopCode
}

// Compiler is the fixture engine.Compiler implementation. It keeps one
// profiler and a cache of loop analyses, and on CompileOptimizedFunction
// tries to recognize the loop at the OSR/deopt id given and, if it
// matches a known template, installs an optimized CodeObj whose Entry
// runs the loop natively; otherwise it falls back to reusing the
// function's unoptimized code marked as optimized, so callers always
// get a valid CodeObj back.
type Compiler struct {
	profiler   *Profiler
	mu         sync.RWMutex
	loopCache  map[uint32]*LoopAnalysis
	nextLoopID uint32
}

// NewCompiler creates a new JIT compiler bound to profiler.
func NewCompiler(profiler *Profiler) *Compiler {
	return &Compiler{
		profiler:   profiler,
		loopCache:  make(map[uint32]*LoopAnalysis),
		nextLoopID: 1,
	}
}

// GetProfiler returns the bound profiler.
func (c *Compiler) GetProfiler() *Profiler {
	return c.profiler
}

func (c *Compiler) allocateLoopID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextLoopID
	c.nextLoopID++
	return id
}

// AnalyzeLoop scans code[startPC:endPC) for a numeric for-loop
// (FORPREP/FORLOOP) or a backward-jumping conditional loop, and, for a
// recognized for-loop, classifies its body into one of the integer
// templates CompileLoop can turn into native register arithmetic.
func (c *Compiler) AnalyzeLoop(code []vmregister.Instruction, startPC, endPC int) *LoopAnalysis {
	if startPC < 0 || endPC > len(code) || startPC >= endPC {
		return nil
	}

	first := code[startPC]
	if first.OpCode() == vmregister.OP_FORPREP {
		a := int(first.A())

		loopEndPC := endPC
		for i := startPC + 1; i < endPC && i < len(code); i++ {
			if code[i].OpCode() == vmregister.OP_FORLOOP {
				loopEndPC = i
				break
			}
		}

		template := detectLoopTemplate(code, startPC+1, loopEndPC)
		analysis := &LoopAnalysis{
			MatchedTemplate: template,
			StartPC:         startPC,
			EndPC:           loopEndPC,
			CounterReg:      a,
			LimitReg:        a + 1,
			StepReg:         a + 2,
			AccumReg:        a + 3,
			LoopID:          c.allocateLoopID(),
		}
		analysis.IntLoopCode = &IntLoopCode{
			CounterReg: a,
			LimitReg:   a + 1,
			StepReg:    a + 2,
			AccumReg:   a + 3,
			Template:   templateToIntLoop(template),
			StartPC:    startPC,
			EndPC:      loopEndPC,
		}

		c.mu.Lock()
		c.loopCache[analysis.LoopID] = analysis
		c.mu.Unlock()
		return analysis
	}

	for i := startPC; i < endPC-1 && i < len(code)-1; i++ {
		if code[i].OpCode() != vmregister.OP_TEST {
			continue
		}
		testReg := int(code[i].A())
		if code[i+1].OpCode() != vmregister.OP_JMP {
			continue
		}
		offset := int16(code[i+1].Bx()) - vmregister.MAXARG_sBx
		if offset >= 0 {
			continue
		}
		analysis := &LoopAnalysis{
			MatchedTemplate: TemplateCounter,
			StartPC:         startPC,
			EndPC:           endPC,
			CounterReg:      testReg,
			LoopID:          c.allocateLoopID(),
		}
		return analysis
	}

	return nil
}

func detectLoopTemplate(code []vmregister.Instruction, startPC, endPC int) TemplateType {
	if startPC >= endPC || endPC-startPC > 20 {
		return TemplateUnknown
	}

	var hasAdd, hasMul, hasSideEffects bool
	for i := startPC; i < endPC && i < len(code); i++ {
		switch code[i].OpCode() {
		case vmregister.OP_ADD, vmregister.OP_ADDK:
			hasAdd = true
		case vmregister.OP_MUL, vmregister.OP_MULK:
			hasMul = true
		case vmregister.OP_CALL, vmregister.OP_PRINT, vmregister.OP_SETGLOBAL, vmregister.OP_SETTABLE, vmregister.OP_APPEND:
			hasSideEffects = true
		}
	}
	if hasSideEffects {
		return TemplateUnknown
	}
	switch {
	case hasMul && !hasAdd:
		return TemplateProduct
	case hasAdd && !hasMul:
		return TemplateSum
	case !hasAdd && !hasMul:
		return TemplateCounter
	default:
		return TemplateUnknown
	}
}

func templateToIntLoop(t TemplateType) int {
	switch t {
	case TemplateCounter:
		return LoopCountUp
	case TemplateSum:
		return LoopSum
	case TemplateProduct:
		return LoopProduct
	case TemplateCountDown:
		return LoopCountDown
	default:
		return LoopGeneric
	}
}

// GetCachedLoop returns a previously analyzed loop, or nil.
func (c *Compiler) GetCachedLoop(loopID uint32) *LoopAnalysis {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loopCache[loopID]
}

// CompileLoop marks a loop compiled in the profiler's bookkeeping.
func (c *Compiler) CompileLoop(analysis *LoopAnalysis) bool {
	if analysis == nil || analysis.IntLoopCode == nil {
		return false
	}
	c.profiler.mu.Lock()
	c.profiler.hotLoops[analysis.LoopID] = true
	c.profiler.mu.Unlock()
	return true
}

// ExecuteIntLoop runs a compiled integer loop directly against the
// frame's int64 scratch registers, returning false if the loop's
// preconditions (a positive step) don't hold and interpretation should
// take over instead.
func ExecuteIntLoop(code *IntLoopCode, regs []int64) bool {
	if code.StepReg >= len(regs) || regs[code.StepReg] <= 0 {
		return false
	}
	step := regs[code.StepReg]

	switch code.Template {
	case LoopCountUp:
		counter, limit := regs[code.CounterReg], regs[code.LimitReg]
		for counter < limit {
			counter += step
		}
		regs[code.CounterReg] = counter
		return true

	case LoopCountDown:
		counter, limit := regs[code.CounterReg], regs[code.LimitReg]
		for counter > limit {
			counter -= step
		}
		regs[code.CounterReg] = counter
		return true

	case LoopSum:
		counter, limit, accum := regs[code.CounterReg], regs[code.LimitReg], regs[code.AccumReg]
		for counter < limit {
			accum += counter
			counter += step
		}
		regs[code.CounterReg], regs[code.AccumReg] = counter, accum
		return true

	case LoopProduct:
		counter, limit, accum := regs[code.CounterReg], regs[code.LimitReg], regs[code.AccumReg]
		for counter <= limit {
			accum *= counter
			counter += step
		}
		regs[code.CounterReg], regs[code.AccumReg] = counter, accum
		return true

	default:
		return false
	}
}

// ShouldInline reports whether a callee's bytecode is small enough, and
// called often enough, to inline at the call site rather than compile
// standalone.
func ShouldInline(fnCode []vmregister.Instruction, callCount uint32) bool {
	if len(fnCode) > InlineSizeLimit || callCount < Tier1Threshold {
		return false
	}
	for _, instr := range fnCode {
		switch instr.OpCode() {
		case vmregister.OP_CALL, vmregister.OP_TAILCALL, vmregister.OP_FORPREP, vmregister.OP_FORLOOP, vmregister.OP_TRY, vmregister.OP_THROW:
			return false
		}
	}
	return true
}

// Stats summarizes the profiler's current view of the running program.
type Stats struct {
	TotalCalls    uint64
	CompiledLoops int
	CompiledFuncs int
	TypeFeedbacks int
}

// GetStats returns current JIT statistics.
func (c *Compiler) GetStats() Stats {
	c.profiler.mu.RLock()
	defer c.profiler.mu.RUnlock()

	var totalCalls uint64
	for _, count := range c.profiler.callCounts {
		totalCalls += uint64(count)
	}
	return Stats{
		TotalCalls:    totalCalls,
		CompiledLoops: len(c.profiler.hotLoops),
		CompiledFuncs: len(c.profiler.hotFunctions),
		TypeFeedbacks: len(c.profiler.typeFeedback),
	}
}

// CompileFunction implements engine.Compiler. It only installs baseline
// code: fn's UnoptimizedCode already holds the entry the frontend
// produced, so CompileFunction's job here is solely to make sure a
// function reaching the runtime with no code at all (the "never
// compiled" case ic.go guards against) gets one.
func (c *Compiler) CompileFunction(fn *vmregister.FunctionObj) error {
	if fn.UnoptimizedCode == nil {
		return fmt.Errorf("jit: function %q has no baseline code to fall back to", fn.Name)
	}
	if fn.CurrentCode == nil {
		fn.CurrentCode = fn.UnoptimizedCode
	}
	c.profiler.RecordCall(fn)
	return nil
}

// CompileOptimizedFunction implements engine.Compiler. It looks for a
// recognized loop template covering osrID's registered bounds in fn's
// unoptimized code and, when found, installs an optimized CodeObj whose
// Entry runs ExecuteIntLoop against the frame's registers reinterpreted
// as counters; any unrecognized shape still gets a valid (if merely
// flagged-optimized) CodeObj rather than an error, since OSR failing to
// help is not itself a failure.
func (c *Compiler) CompileOptimizedFunction(fn *vmregister.FunctionObj, osrID int32) error {
	base := fn.UnoptimizedCode
	if base == nil {
		return fmt.Errorf("jit: function %q has no baseline code to optimize from", fn.Name)
	}

	startPC := -1
	for pc, id := range base.OSRTable {
		if id == osrID {
			startPC = pc
			break
		}
	}

	var analysis *LoopAnalysis
	if startPC >= 0 {
		analysis = c.AnalyzeLoop(base.Instructions, startPC, len(base.Instructions))
	}

	optimized := &vmregister.CodeObj{
		Instructions:      base.Instructions,
		Optimized:         true,
		Alive:             true,
		DeoptTable:        base.DeoptTable,
		DeoptIDTable:      base.DeoptIDTable,
		StaticCallTargets: make(map[int]*vmregister.StaticCallTarget),
		// One past the instruction stream: never a real pc, always
		// nonzero, so DeoptimizeAt always has a jump target to patch to.
		LazyDeoptJump: len(base.Instructions) + 1,
		OSRTable:      base.OSRTable,
	}

	if analysis != nil && analysis.MatchedTemplate != TemplateUnknown && analysis.IntLoopCode != nil {
		c.CompileLoop(analysis)
		loop := analysis.IntLoopCode
		baseEntry := base.Entry
		optimized.Entry = func(frame *vmregister.CallFrame, args []vmregister.Value) (vmregister.Value, error) {
			regs := make([]int64, len(frame.Registers))
			for i, v := range frame.Registers {
				if vmregister.IsInt(v) {
					regs[i] = vmregister.AsInt(v)
				}
			}
			if ExecuteIntLoop(loop, regs) {
				for i, r := range regs {
					frame.Registers[i] = vmregister.BoxInt(r)
				}
				frame.PC = loop.EndPC
				return vmregister.NilValue(), nil
			}
			return baseEntry(frame, args)
		}
	} else {
		optimized.Entry = base.Entry
	}

	fn.CurrentCode = optimized
	c.profiler.RecordCall(fn)
	return nil
}
