package multidict

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Delta", func() {
	var delta *Delta[int, int]

	BeforeEach(func() {
		delta = newIntDelta()
	})

	It("should accumulate signed counts", func() {
		Expect(delta.IsZero()).To(BeTrue())
		Expect(delta.String()).To(Equal("∅"))

		delta.Add(1, 10)
		delta.Add(1, 10)
		delta.Remove(1, 20)
		Expect(delta.Count(1, 10)).To(Equal(int64(2)))
		Expect(delta.Count(1, 20)).To(Equal(int64(-1)))
		Expect(delta.Count(2, 10)).To(BeZero())
		Expect(delta.Len()).To(Equal(2))
		Expect(delta.IsZero()).To(BeFalse())
	})

	It("should drop pairs that net to zero", func() {
		delta.Add(1, 10)
		delta.Remove(1, 10)
		Expect(delta.IsZero()).To(BeTrue())
		Expect(delta.Equal(newIntDelta())).To(BeTrue())
	})

	It("should range over non-zero pairs", func() {
		delta.Add(1, 10)
		delta.Remove(2, 20)
		delta.Add(3, 30)
		delta.Remove(3, 30)

		seen := map[int]int64{}
		delta.Range(func(k, v int, count int64) bool {
			Expect(v).To(Equal(k * 10))
			seen[k] = count
			return true
		})
		Expect(seen).To(Equal(map[int]int64{1: 1, 2: -1}))
	})

	It("should merge deltas by pointwise sum", func() {
		other := newIntDelta()
		delta.Add(1, 10)
		other.Remove(1, 10)
		other.Add(2, 20)
		delta.Merge(other)
		Expect(delta.Count(1, 10)).To(BeZero())
		Expect(delta.Count(2, 20)).To(Equal(int64(1)))
		Expect(delta.Len()).To(Equal(1))

		delta.Merge(delta)
		Expect(delta.Count(2, 20)).To(Equal(int64(2)))
		delta.Merge(nil)
		Expect(delta.Len()).To(Equal(1))
	})

	It("should compare deltas by net counts", func() {
		other := newIntDelta()
		delta.Add(1, 10)
		delta.Remove(2, 20)
		other.Remove(2, 20)
		Expect(delta.Equal(other)).To(BeFalse())
		other.Add(1, 10)
		Expect(delta.Equal(other)).To(BeTrue())
		other.Add(1, 10)
		Expect(delta.Equal(other)).To(BeFalse())
	})

	It("should preview removals without mutating the dictionary", func() {
		dict := newIntDict()
		dict.Add(1, 10)
		dict.Add(2, 20)
		dict.Add(2, 20)
		dict.Add(3, 30)

		delta.Remove(1, 10)
		delta.Remove(2, 20)
		delta.Remove(3, 30)
		delta.Add(3, 31)
		delta.Add(4, 40)

		Expect(delta.WillRemove(dict)).To(ConsistOf(KeyValue[int, int]{Key: 1, Value: 10}))
		Expect(dict.Len()).To(Equal(3))
		Expect(dict.Multiplicity(2)).To(Equal(uint64(2)))
		Expect(dict.Contains(3, 30)).To(BeTrue())
	})

	It("should skip keys that would underflow in the preview", func() {
		dict := newIntDict()
		dict.Add(1, 10)
		delta.Remove(1, 10)
		delta.Remove(2, 20)
		Expect(delta.WillRemove(dict)).To(ConsistOf(KeyValue[int, int]{Key: 1, Value: 10}))
	})
})
