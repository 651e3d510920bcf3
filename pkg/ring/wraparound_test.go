package ring_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/andersenlabs/brtrace/pkg/record"
	"github.com/andersenlabs/brtrace/pkg/ring"
)

// These specs cover the single-producer/single-consumer interleaving
// properties described as ring invariants: a reader that lags behind
// never observes a writer overwriting a slot it hasn't consumed yet,
// and the ring recovers cleanly once the reader catches back up.
var _ = Describe("Ring", func() {
	var r *ring.Ring

	newRing := func(capacity int) *ring.Ring {
		buf := make([]byte, ring.RequiredSize(capacity))
		created, err := ring.New(buf)
		Expect(err).NotTo(HaveOccurred())
		return created
	}

	item := func(source uint32) *record.TracedInstruction {
		return &record.TracedInstruction{BranchSource: source}
	}

	BeforeEach(func() {
		r = newRing(3)
	})

	Describe("a ring the consumer never drains", func() {
		It("rejects pushes once full", func() {
			Expect(r.Push(item(1))).To(BeTrue())
			Expect(r.Push(item(2))).To(BeTrue())
			Expect(r.Push(item(3))).To(BeTrue())
			Expect(r.Push(item(4))).To(BeFalse())
		})
	})

	Describe("interleaved push/pop past the first wrap", func() {
		It("never loses or duplicates an item across the wrap boundary", func() {
			var drained []uint32

			for round := uint32(0); round < 10; round++ {
				Expect(r.Push(item(round))).To(BeTrue())

				var out record.TracedInstruction
				Expect(r.Pop(&out)).To(BeTrue())
				drained = append(drained, out.BranchSource)
			}

			expected := make([]uint32, 10)
			for i := range expected {
				expected[i] = uint32(i)
			}
			Expect(drained).To(Equal(expected))
		})
	})

	Describe("a fully drained ring", func() {
		It("reports empty", func() {
			var out record.TracedInstruction
			Expect(r.Pop(&out)).To(BeFalse())
		})
	})
})
