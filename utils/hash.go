package utils

import (
	"reflect"

	"github.com/benbjohnson/immutable"
)

// Hasher is the hashing contract shared by the mutable and persistent maps
// used throughout the checker. It is the same contract immutable.Hasher
// expects, so a single implementation serves both.
type Hasher[T any] interface {
	Hash(T) uint32
	Equal(T, T) bool
}

// PointerHasher hashes pointer-shaped values by address. The cycle-graph
// scratch set and other identity-keyed tables use it.
type PointerHasher[T any] struct{}

func (PointerHasher[T]) Hash(v T) uint32 {
	p := reflect.ValueOf(v).Pointer()
	return uint32(p ^ (p >> 32))
}

func (PointerHasher[T]) Equal(a, b T) bool {
	return any(a) == any(b)
}

// UintHasher hashes 64-bit integer-shaped keys (values, interned locations).
// The bit mix folds 64 bits down to 32 so that small consecutive keys do not
// cluster.
type UintHasher[T ~uint64] struct{}

func (UintHasher[T]) Hash(v T) uint32 {
	x := uint64(v)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return uint32(x)
}

func (UintHasher[T]) Equal(a, b T) bool { return a == b }

var (
	_ immutable.Hasher[uint64] = UintHasher[uint64]{}
)

// HashCombine uses the C++ boost algorithm for combining multiple hash values.
func HashCombine(hs ...uint32) (seed uint32) {
	for _, v := range hs {
		seed = v + 0x9e3779b9 + (seed << 6) + (seed >> 2)
	}

	return
}
