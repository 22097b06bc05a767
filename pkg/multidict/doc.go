// Package multidict implements the reference-counted key/value multiset that tracks which rows
// a subscriber currently sees, and the signed change batches that are merged into it once per
// committed transaction.
//
// A MultiDictionary holds, for every live key, exactly one current value and a multiplicity:
// the number of independent reasons (overlapping queries, duplicate inserts) the key is
// present. A Delta accumulates signed per-(key, value) counts; building it is commutative and
// associative, so any permutation of the same Add/Remove calls yields an equal Delta. Applying
// a Delta merges it into the dictionary atomically and classifies the net effect per key as an
// insertion, a value change or a removal.
//
// Example usage:
//
//	dict := multidict.New(equality.Bytes(), equality.Rows())
//	delta := multidict.NewDelta(equality.Bytes(), equality.Rows())
//	delta.Add(key, row)
//	changes, err := dict.Apply(delta)
package multidict
