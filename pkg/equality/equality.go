// Package equality provides pluggable structural equality and hashing for the keys and values
// stored in multi-dictionaries. Strategies are always passed explicitly: picking the wrong
// notion of equality (pointer identity instead of byte content, say) silently corrupts
// multiplicity bookkeeping, so there is no implicit default.
package equality

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/l7mp/livesync/pkg/object"
)

// Strategy supplies equality and hashing for a type. Values that are Equal must have the same
// Hash.
type Strategy[T any] interface {
	Equal(a, b T) bool
	Hash(v T) uint64
}

type funcStrategy[T any] struct {
	eq   func(a, b T) bool
	hash func(v T) uint64
}

func (s funcStrategy[T]) Equal(a, b T) bool { return s.eq(a, b) }
func (s funcStrategy[T]) Hash(v T) uint64   { return s.hash(v) }

// New creates a strategy from an equality and a hash function.
func New[T any](eq func(a, b T) bool, hash func(v T) uint64) Strategy[T] {
	return funcStrategy[T]{eq: eq, hash: hash}
}

// Bytes compares byte slices by content.
func Bytes() Strategy[[]byte] {
	return New(bytes.Equal, xxhash.Sum64)
}

// String compares strings.
func String() Strategy[string] {
	return New(func(a, b string) bool { return a == b }, xxhash.Sum64String)
}

// Comparable uses Go's == for equality and hashes the %#v rendering of the value. Only use it
// for types whose == is structural (no pointers or channels). Float keys are hashed with
// negative zero folded into zero; structs with float fields are not supported.
func Comparable[T comparable]() Strategy[T] {
	return New(
		func(a, b T) bool { return a == b },
		func(v T) uint64 { return xxhash.Sum64(fmt.Appendf(nil, "%#v", normalize(v))) },
	)
}

// normalize maps values that == considers equal onto one rendering.
func normalize(v any) any {
	switch f := v.(type) {
	case float64:
		if f == 0 {
			return float64(0)
		}
	case float32:
		if f == 0 {
			return float32(0)
		}
	}
	return v
}

// Identities compares 32-byte identities by content.
func Identities() Strategy[object.Identity] {
	return New(
		func(a, b object.Identity) bool { return a == b },
		func(v object.Identity) uint64 { return xxhash.Sum64(v[:]) },
	)
}

// Statuses compares transaction statuses by tag, and by message for the failed variant.
func Statuses() Strategy[object.Status] {
	return New(
		func(a, b object.Status) bool { return a.Equal(b) },
		func(v object.Status) uint64 {
			var tag [8]byte
			binary.LittleEndian.PutUint64(tag[:], uint64(v.Kind))
			d := xxhash.New()
			_, _ = d.Write(tag[:])
			if v.Kind == object.StatusFailed {
				_, _ = d.WriteString(v.Message)
			}
			return d.Sum64()
		},
	)
}

// Rows compares rows structurally through their canonical encoding. Rows that cannot be encoded
// never compare equal and hash to zero.
func Rows() Strategy[object.Row] {
	return New(object.DeepEqual, func(v object.Row) uint64 {
		b, err := object.Encode(v)
		if err != nil {
			return 0
		}
		return xxhash.Sum64(b)
	})
}
