package engine

import "math/big"

// BigIntCompare is the one leaf, non-allocating runtime entry the core
// keeps for bignum arithmetic: a three-way comparison of two big
// integers encoded as decimal strings by the caller's inlined fast
// path, which only calls here once it has already ruled out the
// small-integer case. Like
// DeoptimizeCopyFrame and DeoptimizeFillFrame, it must not allocate on
// the heap in the managed sense and must not trigger GC — math/big's own
// allocations are plain Go heap, invisible to the mutator's object
// model, which is exactly why this one entry is allowed to stay on the
// standard library rather than the object model's bignum representation.
func BigIntCompare(lhs, rhs string) (int, error) {
	a, ok := new(big.Int).SetString(lhs, 10)
	if !ok {
		return 0, &BoundError{Message: "bigint_compare: malformed left operand"}
	}
	b, ok := new(big.Int).SetString(rhs, 10)
	if !ok {
		return 0, &BoundError{Message: "bigint_compare: malformed right operand"}
	}
	return a.Cmp(b), nil
}
