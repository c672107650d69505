package vmregister

import (
	"sync"
	"unsafe"
)

// EntryPoint is the callable shape every Code object exposes, whether it
// wraps the unoptimized interpreter loop or a compiled fast path. The
// runtime never inspects which one it got; it just calls it.
type EntryPoint func(frame *CallFrame, args []Value) (Value, error)

// CodeObj is the compiled-code entity a Function points at. A Function
// always keeps its UnoptimizedCode alive; CurrentCode may be swapped to an
// optimized CodeObj and swapped back by deoptimization.
type CodeObj struct {
	Entry       EntryPoint
	Instructions []Instruction
	Optimized   bool
	Alive       bool // false once deoptimized and disconnected; kept for OSR bookkeeping

	// DeoptTable maps a deopt id (not a raw pc, since optimized code may
	// reorder or inline) to the descriptor used to rebuild unoptimized
	// frames at that point.
	DeoptTable map[int32]*DeoptDescriptor

	// DeoptIDTable maps a faulting pc within this CodeObj to the deopt id
	// whose descriptor in DeoptTable describes how to rebuild the frame at
	// that point. A guard failure only ever knows its own pc, never the id
	// directly.
	DeoptIDTable map[int]int32

	// StaticCallTargets maps a call-site pc within this CodeObj to the
	// target resolved by the last successful patch, so PatchStaticCall can
	// check monotonicity before rewriting it.
	StaticCallTargets map[int]*StaticCallTarget

	// LazyDeoptJump is the pc optimized code traps to when a guard fails
	// and the frame must be rebuilt from DeoptTable instead of continuing.
	LazyDeoptJump int

	// OSRTable maps a loop-header pc in the unoptimized Code to the deopt
	// id used to transfer a running interpreted frame into optimized code.
	OSRTable map[int]int32
}

// NewUnoptimizedCode wraps the baseline instruction stream produced by the
// frontend. It is never discarded once a Function starts running.
func NewUnoptimizedCode(entry EntryPoint, instrs []Instruction) *CodeObj {
	return &CodeObj{
		Entry:             entry,
		Instructions:      instrs,
		Alive:             true,
		DeoptTable:        make(map[int32]*DeoptDescriptor),
		DeoptIDTable:      make(map[int]int32),
		StaticCallTargets: make(map[int]*StaticCallTarget),
		OSRTable:          make(map[int]int32),
	}
}

// NewFunction creates a Function object whose CurrentCode and
// UnoptimizedCode both point at the supplied baseline code, the state every
// function starts in before any optimization has run.
func NewFunction(name string, arity int, code []Instruction, constants []Value, entry EntryPoint) Value {
	baseline := NewUnoptimizedCode(entry, code)
	obj := &FunctionObj{
		Object:          Object{Type: OBJ_FUNCTION},
		Name:            name,
		Arity:           arity,
		Code:            code,
		Constants:       constants,
		Optimizable:     true,
		CurrentCode:     baseline,
		UnoptimizedCode: baseline,
	}
	return BoxPointer(unsafe.Pointer(obj))
}

// StaticCallTarget records what a direct call instruction currently calls.
// Patching installs a new one; deoptimization can restore the prior one.
type StaticCallTarget struct {
	Function *FunctionObj
	Code     *CodeObj
}

// DeoptDescriptor records how to rematerialize one unoptimized frame from
// an optimized frame's registers and the constant pool, at a single deopt
// id. Materialization is the only phase allowed to allocate.
type DeoptDescriptor struct {
	FrameSize int
	Slots     []DeoptSlot
}

// DeoptSlotKind tells the fill phase where a restored value comes from.
type DeoptSlotKind uint8

const (
	DeoptFromRegister DeoptSlotKind = iota
	DeoptFromConstant
	DeoptFromCallerFrame
)

// DeoptSlot is one (destination register, source) pair in a DeoptDescriptor.
type DeoptSlot struct {
	Kind     DeoptSlotKind
	DestReg  int
	SrcIndex int   // register or constant-pool index, per Kind
	Constant Value // valid when Kind == DeoptFromConstant
}

// CallFrame is the minimal stack-walking unit the runtime entries need:
// enough to read/write registers and to find the caller and its Code/pc
// for static-call patching and deopt-on-return.
type CallFrame struct {
	Function  *FunctionObj
	Code      *CodeObj
	PC        int
	Registers []Value
	Caller    *CallFrame
}

// ArgAt returns the Nth argument register, used by runtime entries that
// receive an Arguments array instead of raw registers (noSuchMethod,
// native trampolines).
func (f *CallFrame) ArgAt(n int) Value {
	if n < 0 || n >= len(f.Registers) {
		return NilValue()
	}
	return f.Registers[n]
}

// ArgsDescriptor describes the shape of a call site's argument list: the
// positional count plus any named-argument labels, in call order. Two call
// sites with the same descriptor share ICData cache slots.
type ArgsDescriptor struct {
	Count int
	Names []string // empty for purely positional calls
}

// Key returns a value suitable for use as a map key, since ArgsDescriptor
// itself contains a slice.
func (d ArgsDescriptor) Key() string {
	if len(d.Names) == 0 {
		return string(rune(d.Count))
	}
	s := string(rune(d.Count))
	for _, n := range d.Names {
		s += "," + n
	}
	return s
}

// ICCheck is one resolved entry in an ICData's check list: the class-id
// vector this entry was recorded for, and the function that handles it.
type ICCheck struct {
	ClassIDs []ClassID
	Target   *FunctionObj
	Code     *CodeObj
	HitCount uint32
}

// ICData is the per-call-site inline cache record. NumArgsTested is
// usually 1 (receiver only) but is 2 for some binary operators that key
// on both operand classes.
type ICData struct {
	TargetName     string
	Args           ArgsDescriptor
	NumArgsTested  int
	Checks         []ICCheck
}

// Lookup scans the ordered check list for a matching class-id vector.
func (ic *ICData) Lookup(cids []ClassID) *ICCheck {
	for i := range ic.Checks {
		if classIDsEqual(ic.Checks[i].ClassIDs, cids) {
			return &ic.Checks[i]
		}
	}
	return nil
}

// FullyPolymorphic reports whether this call site has exhausted its
// inline check slots and should escalate to the megamorphic cache.
func (ic *ICData) FullyPolymorphic() bool {
	return len(ic.Checks) >= MaxPolymorphicChecks
}

// AddCheck appends a new resolved entry, keeping the cache polymorphic
// rather than replacing an existing slot.
func (ic *ICData) AddCheck(cids []ClassID, target *FunctionObj, code *CodeObj) {
	entry := ICCheck{
		ClassIDs: append([]ClassID(nil), cids...),
		Target:   target,
		Code:     code,
		HitCount: 1,
	}
	ic.Checks = append(ic.Checks, entry)
}

func classIDsEqual(a, b []ClassID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MaxPolymorphicChecks is the number of ICData.Checks entries tolerated
// before a call site escalates to the megamorphic cache.
const MaxPolymorphicChecks = 4

// megamorphicKey identifies one (selector, args shape, receiver class id)
// entry in a MegamorphicCache.
type megamorphicKey struct {
	name    string
	argsKey string
	cid     ClassID
}

// MegamorphicCache is the shared, growable fallback once a call site has
// seen more distinct receiver classes than its ICData can hold inline.
// Unlike ICData, one MegamorphicCache instance is shared across every call
// site with the same selector.
type MegamorphicCache struct {
	mu      sync.RWMutex
	entries map[megamorphicKey]*ICCheck
}

func NewMegamorphicCache() *MegamorphicCache {
	return &MegamorphicCache{entries: make(map[megamorphicKey]*ICCheck)}
}

func (m *MegamorphicCache) Lookup(name string, args ArgsDescriptor, cid ClassID) *ICCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[megamorphicKey{name, args.Key(), cid}]
}

func (m *MegamorphicCache) Insert(name string, args ArgsDescriptor, cid ClassID, target *FunctionObj, code *CodeObj) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[megamorphicKey{name, args.Key(), cid}] = &ICCheck{
		ClassIDs: []ClassID{cid},
		Target:   target,
		Code:     code,
		HitCount: 1,
	}
}

// TypeArgsKind distinguishes an already-flattened type-argument vector from
// one that still needs instantiation against a live instantiator.
type TypeArgsKind uint8

const (
	TypeArgsFlat TypeArgsKind = iota
	TypeArgsLazy
)

// TypeArgs is the lazy type-argument-vector model: either a flat vector of
// already-instantiated ClassIDs, or an uninstantiated vector paired with
// the instantiator type-argument vector it must be applied against. Lazy
// vectors are only flattened (canonicalized) when a subtype test actually
// needs to compare them, so that instantiation is never paid on a path
// that only type-checks failures.
type TypeArgs struct {
	Kind          TypeArgsKind
	Flat          []ClassID
	Uninstantiated []ClassID
	Instantiator  *TypeArgs
}

// Canonicalize flattens a Lazy TypeArgs into a Flat one, substituting free
// type parameters (encoded as index+FirstFreeTypeParam) with the
// instantiator's entries at the same position. Flat vectors are returned
// unchanged.
const FirstFreeTypeParam ClassID = 1 << 20

func (t TypeArgs) Canonicalize() TypeArgs {
	if t.Kind == TypeArgsFlat {
		return t
	}
	flat := make([]ClassID, len(t.Uninstantiated))
	for i, cid := range t.Uninstantiated {
		if cid >= FirstFreeTypeParam && t.Instantiator != nil {
			idx := int(cid - FirstFreeTypeParam)
			inst := t.Instantiator.Canonicalize()
			if idx >= 0 && idx < len(inst.Flat) {
				flat[i] = inst.Flat[idx]
				continue
			}
		}
		flat[i] = cid
	}
	return TypeArgs{Kind: TypeArgsFlat, Flat: flat}
}

// StillLazy reports whether canonicalization could not fully resolve this
// vector (a free type parameter had no matching instantiator slot). The
// subtype-test cache must never insert a key built from a vector in this
// state.
func (t TypeArgs) StillLazy() bool {
	c := t.Canonicalize()
	for _, cid := range c.Flat {
		if cid >= FirstFreeTypeParam {
			return true
		}
	}
	return false
}

// SameCanonical compares two already-canonicalized type-argument vectors
// by identity rather than structure: a hash-consing object model returns
// the same backing Flat slice for every structurally equal vector, so two
// canonical vectors of equal shape are expected to already be the same
// slice. The subtype-test cache relies on this to stay a cheap pointer
// compare instead of a per-lookup element scan.
func (t TypeArgs) SameCanonical(o TypeArgs) bool {
	if len(t.Flat) != len(o.Flat) {
		return false
	}
	if len(t.Flat) == 0 {
		return true
	}
	return &t.Flat[0] == &o.Flat[0]
}

// SubtypeTestCacheEntry is one canonicalized (instance class, instantiator
// type args, function type args, instance type args) -> result tuple.
type SubtypeTestCacheEntry struct {
	InstanceCID          ClassID
	InstantiatorTypeArgs TypeArgs
	FunctionTypeArgs     TypeArgs
	InstanceTypeArgs     TypeArgs
	Result               bool
}

// DefaultMaxSubtypeTestCacheEntries is the bound used when a cache is
// constructed without an explicit configured maximum. Callers that honor
// the engine's configurable max_subtype_cache_entries flag should set
// SubtypeTestCache.MaxEntries after construction.
const DefaultMaxSubtypeTestCacheEntries = 100

// SubtypeTestCache is an append-only array scanned linearly under a
// canonicalize-before-scan policy: the instance's class id and all
// three type-argument vectors are canonicalized first so the comparison
// is an identity compare of canonical vectors (SameCanonical) rather than
// lazy-structure comparison.
// Once MaxEntries is reached, Insert silently declines further entries
// rather than evicting the oldest.
type SubtypeTestCache struct {
	mu         sync.Mutex
	Entries    []SubtypeTestCacheEntry
	MaxEntries int
}

func NewSubtypeTestCache() *SubtypeTestCache {
	return &SubtypeTestCache{
		Entries:    make([]SubtypeTestCacheEntry, 0, 4),
		MaxEntries: DefaultMaxSubtypeTestCacheEntries,
	}
}

func (c *SubtypeTestCache) Lookup(instanceCID ClassID, instantiator, funcArgs, instanceArgs TypeArgs) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	instantiator = instantiator.Canonicalize()
	funcArgs = funcArgs.Canonicalize()
	instanceArgs = instanceArgs.Canonicalize()
	for _, e := range c.Entries {
		if e.InstanceCID == instanceCID &&
			e.InstantiatorTypeArgs.SameCanonical(instantiator) &&
			e.FunctionTypeArgs.SameCanonical(funcArgs) &&
			e.InstanceTypeArgs.SameCanonical(instanceArgs) {
			return e.Result, true
		}
	}
	return false, false
}

// Insert appends a new entry, unless the cache has already reached
// MaxEntries: a full cache silently declines further insertions rather
// than evicting. Returns false when declined.
func (c *SubtypeTestCache) Insert(instanceCID ClassID, instantiator, funcArgs, instanceArgs TypeArgs, result bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	max := c.MaxEntries
	if max <= 0 {
		max = DefaultMaxSubtypeTestCacheEntries
	}
	if len(c.Entries) >= max {
		return false
	}
	c.Entries = append(c.Entries, SubtypeTestCacheEntry{
		InstanceCID:          instanceCID,
		InstantiatorTypeArgs: instantiator.Canonicalize(),
		FunctionTypeArgs:     funcArgs.Canonicalize(),
		InstanceTypeArgs:     instanceArgs.Canonicalize(),
		Result:               result,
	})
	return true
}
