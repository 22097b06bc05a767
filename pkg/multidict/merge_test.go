package multidict

import (
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type op struct {
	add        bool
	key, value int
}

func (o op) applyTo(d *Delta[int, int]) {
	if o.add {
		d.Add(o.key, o.value)
	} else {
		d.Remove(o.key, o.value)
	}
}

func deltaOf(ops []op) *Delta[int, int] {
	d := newIntDelta()
	for _, o := range ops {
		o.applyTo(d)
	}
	return d
}

// genOps generates a sequence of operations that keeps at most one live value per key at every
// prefix: a value switch removes every occurrence of the old value before adding the new one.
func genOps(r *rand.Rand, n, keys, values int) []op {
	type state struct{ value, mult int }
	model := map[int]state{}
	ops := []op{}

	for len(ops) < n {
		k := r.IntN(keys)
		st, ok := model[k]
		switch {
		case !ok:
			v := r.IntN(values)
			ops = append(ops, op{add: true, key: k, value: v})
			model[k] = state{v, 1}
		case r.IntN(3) == 0:
			ops = append(ops, op{add: true, key: k, value: st.value})
			model[k] = state{st.value, st.mult + 1}
		case r.IntN(4) == 0:
			for i := 0; i < st.mult; i++ {
				ops = append(ops, op{add: false, key: k, value: st.value})
			}
			v := r.IntN(values)
			ops = append(ops, op{add: true, key: k, value: v})
			model[k] = state{v, 1}
		default:
			ops = append(ops, op{add: false, key: k, value: st.value})
			if st.mult == 1 {
				delete(model, k)
			} else {
				model[k] = state{st.value, st.mult - 1}
			}
		}
	}

	return ops
}

// applyDirect replays ops on a dictionary with Add and Remove.
func applyDirect(ops []op) *MultiDictionary[int, int] {
	dict := newIntDict()
	for _, o := range ops {
		if o.add {
			dict.Add(o.key, o.value)
			continue
		}
		_, _, err := dict.Remove(o.key)
		Expect(err).NotTo(HaveOccurred())
	}
	return dict
}

// survivors drops every add that is later cancelled by a remove of the same key.
func survivors(ops []op) []KeyValue[int, int] {
	pending := map[int][]int{}
	for i, o := range ops {
		if o.add {
			pending[o.key] = append(pending[o.key], i)
			continue
		}
		adds := pending[o.key]
		pending[o.key] = adds[:len(adds)-1]
	}

	ret := []KeyValue[int, int]{}
	for i, o := range ops {
		for _, j := range pending[o.key] {
			if i == j {
				ret = append(ret, KeyValue[int, int]{Key: o.key, Value: o.value})
			}
		}
	}
	return ret
}

func chunk(r *rand.Rand, ops []op) [][]op {
	ret := [][]op{}
	for len(ops) > 0 {
		n := 1 + r.IntN(len(ops))
		ret = append(ret, ops[:n])
		ops = ops[n:]
	}
	return ret
}

var _ = Describe("Apply", func() {
	var dict *MultiDictionary[int, int]

	BeforeEach(func() {
		dict = newIntDict()
	})

	It("should report insertions", func() {
		d := newIntDelta()
		d.Add(1, 10)
		d.Add(2, 20)
		d.Add(2, 20)

		changes, err := dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.Inserted).To(ConsistOf(KeyValue[int, int]{1, 10}, KeyValue[int, int]{2, 20}))
		Expect(changes.Updated).To(BeEmpty())
		Expect(changes.Removed).To(BeEmpty())
		Expect(changes.Len()).To(Equal(2))
		Expect(dict.Multiplicity(2)).To(Equal(uint64(2)))
	})

	It("should report removals with the last value", func() {
		dict.Add(1, 10)
		dict.Add(1, 10)
		d := newIntDelta()
		d.Remove(1, 10)
		d.Remove(1, 10)

		changes, err := dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.Removed).To(ConsistOf(KeyValue[int, int]{1, 10}))
		Expect(dict.Len()).To(Equal(0))
	})

	It("should only bump multiplicity for an unchanged value", func() {
		dict.Add(1, 10)
		d := newIntDelta()
		d.Add(1, 10)

		changes, err := dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.IsEmpty()).To(BeTrue())
		Expect(dict.Multiplicity(1)).To(Equal(uint64(2)))

		d = newIntDelta()
		d.Remove(1, 10)
		changes, err = dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.IsEmpty()).To(BeTrue())
		Expect(dict.Multiplicity(1)).To(Equal(uint64(1)))
	})

	It("should leave untouched keys alone", func() {
		dict.Add(1, 10)
		dict.Add(2, 20)
		d := newIntDelta()
		d.Add(3, 30)

		changes, err := dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.Inserted).To(ConsistOf(KeyValue[int, int]{3, 30}))
		Expect(dict.Contains(1, 10)).To(BeTrue())
		Expect(dict.Contains(2, 20)).To(BeTrue())
	})

	It("should do nothing for an empty or nil delta", func() {
		dict.Add(1, 10)
		changes, err := dict.Apply(newIntDelta())
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.IsEmpty()).To(BeTrue())
		changes, err = dict.Apply(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.IsEmpty()).To(BeTrue())
		Expect(dict.Multiplicity(1)).To(Equal(uint64(1)))
	})

	It("should detect an update through an intermediate deletion", func() {
		dict.Add(1, 2)
		d := newIntDelta()
		d.Add(1, 2)
		d.Add(1, 3)
		d.Remove(1, 2)
		d.Remove(1, 2)

		changes, err := dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.Updated).To(ConsistOf(Update[int, int]{Key: 1, Old: 2, New: 3}))
		Expect(changes.Inserted).To(BeEmpty())
		Expect(changes.Removed).To(BeEmpty())

		expected := newIntDict()
		expected.Add(1, 3)
		Expect(dict.Equal(expected)).To(BeTrue())
	})

	It("should detect the same update for a permutation of the operations", func() {
		dict.Add(1, 2)
		d := newIntDelta()
		d.Add(1, 3)
		d.Remove(1, 2)
		d.Remove(1, 2)
		d.Add(1, 2)

		changes, err := dict.Apply(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.Updated).To(ConsistOf(Update[int, int]{Key: 1, Old: 2, New: 3}))
		Expect(dict.Multiplicity(1)).To(Equal(uint64(1)))
		v, _ := dict.Get(1)
		Expect(v).To(Equal(3))
	})

	It("should fail on underflow and leave the dictionary untouched", func() {
		dict.Add(1, 10)
		dict.Add(2, 20)
		d := newIntDelta()
		d.Remove(1, 10)
		d.Add(3, 30)
		d.Remove(2, 20)
		d.Remove(2, 20)

		_, err := dict.Apply(d)
		Expect(err).To(MatchError(ErrUnderflow))
		Expect(dict.Len()).To(Equal(2))
		Expect(dict.Contains(1, 10)).To(BeTrue())
		Expect(dict.Multiplicity(2)).To(Equal(uint64(1)))
		Expect(dict.Multiplicity(3)).To(BeZero())
	})

	It("should fail on removing a value that is not stored", func() {
		dict.Add(1, 10)
		d := newIntDelta()
		d.Remove(1, 11)
		_, err := dict.Apply(d)
		Expect(err).To(MatchError(ErrUnderflow))
		Expect(dict.Contains(1, 10)).To(BeTrue())
	})

	It("should fail on more than one live value", func() {
		dict.Add(1, 10)
		d := newIntDelta()
		d.Add(1, 11)

		_, err := dict.Apply(d)
		Expect(err).To(MatchError(ErrAmbiguousValue))
		Expect(dict.Contains(1, 10)).To(BeTrue())
		Expect(dict.Multiplicity(1)).To(Equal(uint64(1)))

		d = newIntDelta()
		d.Add(2, 20)
		d.Add(2, 21)
		_, err = dict.Apply(d)
		Expect(err).To(MatchError(ErrAmbiguousValue))
		Expect(dict.Len()).To(Equal(1))
	})

	It("should support prepare and commit", func() {
		dict.Add(1, 10)
		d := newIntDelta()
		d.Remove(1, 10)

		mg, err := dict.Prepare(d)
		Expect(err).NotTo(HaveOccurred())
		Expect(mg.Changes().Removed).To(ConsistOf(KeyValue[int, int]{1, 10}))
		Expect(dict.Contains(1, 10)).To(BeTrue())

		changes, err := mg.Commit()
		Expect(err).NotTo(HaveOccurred())
		Expect(changes.Removed).To(HaveLen(1))
		Expect(dict.Len()).To(Equal(0))

		_, err = mg.Commit()
		Expect(err).To(MatchError(ErrStaleMerge))
	})

	It("should refuse to commit a stale merge", func() {
		d := newIntDelta()
		d.Add(1, 10)
		mg, err := dict.Prepare(d)
		Expect(err).NotTo(HaveOccurred())

		dict.Add(2, 20)
		_, err = mg.Commit()
		Expect(err).To(MatchError(ErrStaleMerge))
		Expect(dict.Multiplicity(1)).To(BeZero())
	})

	Describe("Properties", func() {
		const rounds = 50

		It("should build the same dictionary regardless of pair order", func() {
			r := rand.New(rand.NewPCG(1, 2))
			for round := 0; round < rounds; round++ {
				values := map[int]int{}
				pairs := []KeyValue[int, int]{}
				for i := 0; i < 40; i++ {
					k := r.IntN(15)
					if _, ok := values[k]; !ok {
						values[k] = r.IntN(100)
					}
					pairs = append(pairs, KeyValue[int, int]{k, values[k]})
				}

				shuffled := append([]KeyValue[int, int](nil), pairs...)
				r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

				a := FromPairs(pairs, intEq, intEq)
				b := FromPairs(shuffled, intEq, intEq)
				Expect(a.Equal(b)).To(BeTrue(), "round %d: %s != %s", round, a, b)
			}
		})

		It("should cancel adds that are later removed", func() {
			r := rand.New(rand.NewPCG(3, 4))
			for round := 0; round < rounds; round++ {
				ops := genOps(r, 60, 8, 4)
				direct := applyDirect(ops)
				reduced := FromPairs(survivors(ops), intEq, intEq)
				Expect(direct.Equal(reduced)).To(BeTrue(), "round %d: %s != %s", round, direct, reduced)
			}
		})

		It("should build equal deltas from shuffled operations", func() {
			r := rand.New(rand.NewPCG(5, 6))
			for round := 0; round < rounds; round++ {
				ops := genOps(r, 60, 8, 4)
				shuffled := append([]op(nil), ops...)
				r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
				a, b := deltaOf(ops), deltaOf(shuffled)
				Expect(a.Equal(b)).To(BeTrue(), "round %d: %s != %s", round, a, b)
			}
		})

		It("should reach the same state whether applied at once or in chunks", func() {
			r := rand.New(rand.NewPCG(7, 8))
			for round := 0; round < rounds; round++ {
				ops := genOps(r, 80, 10, 4)

				whole := newIntDict()
				_, err := whole.Apply(deltaOf(ops))
				Expect(err).NotTo(HaveOccurred())
				Expect(whole.Equal(applyDirect(ops))).To(BeTrue())

				chunked := newIntDict()
				for _, c := range chunk(r, ops) {
					d := deltaOf(c)
					preview := d.WillRemove(chunked)

					changes, err := chunked.Apply(d)
					Expect(err).NotTo(HaveOccurred())
					Expect(changes.Removed).To(ConsistOf(preview))

					for _, kv := range changes.Removed {
						Expect(chunked.Multiplicity(kv.Key)).To(BeZero())
					}
					for _, kv := range changes.Inserted {
						Expect(chunked.Contains(kv.Key, kv.Value)).To(BeTrue())
					}
					for _, u := range changes.Updated {
						Expect(u.Old).NotTo(Equal(u.New))
						Expect(chunked.Contains(u.Key, u.New)).To(BeTrue())
					}
				}

				Expect(chunked.Equal(whole)).To(BeTrue(), "round %d: %s != %s", round, chunked, whole)
			}
		})
	})
})
