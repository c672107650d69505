package vmregister

import "sync"

// ClassID identifies a class for inline-cache keys, subtype-test cache keys,
// and field-feedback guards. Built-in kinds occupy the low, fixed ids;
// user-defined classes (ClassObj) are assigned ids on registration.
type ClassID uint32

const (
	CidIllegal ClassID = iota
	CidNil
	CidBool
	CidInt
	CidNumber
	CidString
	CidArray
	CidMap
	CidFunction
	CidClosure
	CidNativeFunction
	CidModule
	CidError
	CidChannel
	CidIterator
	CidFiber

	// CidFirstDynamic is the first id handed out to user-defined classes.
	CidFirstDynamic ClassID = 1000
)

// ClassRegistry assigns stable, monotonically increasing ids to ClassObj
// instances the first time each is seen. One registry per isolate.
type ClassRegistry struct {
	mu     sync.Mutex
	nextID ClassID
	byName map[string]*ClassObj
}

// NewClassRegistry creates an empty, isolate-scoped class registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		nextID: CidFirstDynamic,
		byName: make(map[string]*ClassObj),
	}
}

// Register assigns a ClassID to a freshly created class, or returns the
// existing registration if a class with the same name was already seen.
func (r *ClassRegistry) Register(class *ClassObj) ClassID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[class.Name]; ok {
		class.ID = existing.ID
		return existing.ID
	}
	id := r.nextID
	r.nextID++
	class.ID = id
	r.byName[class.Name] = class
	return id
}

// globalClasses is a process-wide fallback registry used whenever a ClassObj
// is allocated through NewClass without an isolate-scoped registry at hand
// (tests, standalone fixtures). Production call paths route class
// registration through Isolate.RegisterClass instead.
var globalClasses = NewClassRegistry()

// ClassIDOf returns the ClassID of a Value's runtime class. Built-in kinds
// map to the fixed Cid* constants; instances resolve to their ClassObj's id.
func ClassIDOf(v Value) ClassID {
	if IsNil(v) {
		return CidNil
	}
	if IsBool(v) {
		return CidBool
	}
	if IsInt(v) {
		return CidInt
	}
	if IsNumber(v) {
		return CidNumber
	}
	if !IsPointer(v) {
		return CidIllegal
	}
	obj := AsObject(v)
	switch obj.Type {
	case OBJ_STRING:
		return CidString
	case OBJ_ARRAY:
		return CidArray
	case OBJ_MAP:
		return CidMap
	case OBJ_FUNCTION:
		return CidFunction
	case OBJ_CLOSURE:
		return CidClosure
	case OBJ_NATIVE_FN:
		return CidNativeFunction
	case OBJ_MODULE:
		return CidModule
	case OBJ_ERROR:
		return CidError
	case OBJ_CHANNEL:
		return CidChannel
	case OBJ_ITERATOR:
		return CidIterator
	case OBJ_FIBER:
		return CidFiber
	case OBJ_INSTANCE:
		inst := AsInstance(v)
		if inst.Class == nil {
			return CidIllegal
		}
		if inst.Class.ID == CidIllegal {
			return globalClasses.Register(inst.Class)
		}
		return inst.Class.ID
	case OBJ_CLASS:
		return CidIllegal
	default:
		return CidIllegal
	}
}
