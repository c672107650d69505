package engine

import "strings"

// Flags holds every observable knob the core exposes. Built as a plain
// struct with a constructor rather than a config-file format: nothing
// in the engine's scope is meant to be reloaded at runtime, and
// VM-construction options elsewhere in this codebase aren't backed by
// a config-file library either.
type Flags struct {
	OptimizationCounterThreshold   int64
	ReoptimizationCounterThreshold int64
	MaxSubtypeCacheEntries         int

	UseOSR                        bool
	DeoptimizeAlot                bool
	StopOnExcessiveDeoptimization bool

	TraceICMisses    bool
	TraceOptimization bool
	TraceDeoptimization bool
	TracePatching    bool

	// OptimizationFilter restricts optimization to functions whose
	// qualified name contains one of these comma-separated substrings.
	// Empty means no restriction.
	OptimizationFilter string
}

// DefaultFlags returns the documented defaults.
func DefaultFlags() Flags {
	return Flags{
		OptimizationCounterThreshold:   15000,
		ReoptimizationCounterThreshold: 2000,
		MaxSubtypeCacheEntries:         100,
		UseOSR:                         true,
	}
}

// MatchesOptimizationFilter reports whether a qualified function name
// passes the configured filter. An empty filter matches everything.
func (f Flags) MatchesOptimizationFilter(qualifiedName string) bool {
	if f.OptimizationFilter == "" {
		return true
	}
	for _, part := range strings.Split(f.OptimizationFilter, ",") {
		if part == "" {
			continue
		}
		if strings.Contains(qualifiedName, part) {
			return true
		}
	}
	return false
}

// SetFlags replaces the engine's flags wholesale.
func (e *Engine) SetFlags(f Flags) {
	e.Flags = f
}
