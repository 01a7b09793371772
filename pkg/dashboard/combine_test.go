package dashboard_test

import (
	"github.com/gfxtelemetry/bigquery-shim/pkg/dashboard"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Combine", func() {
	var (
		histogram map[string]int64
	)

	BeforeEach(func() {
		histogram = map[string]int64{
			"0x8086": 500,
			"0x10de": 300,
			"0x1002": 197,
			"0x1414": 2,
			"0x5333": 1,
		}
	})

	Describe(".Apply", func() {
		It("folds entries not in the keep list", func() {
			combine := dashboard.Combine{Into: "Unknown", Keep: []string{"0x8086", "0x10de", "0x1002"}}
			Expect(combine.Apply(histogram)).To(Equal(map[string]int64{
				"0x8086":  500,
				"0x10de":  300,
				"0x1002":  197,
				"Unknown": 3,
			}))
		})

		It("folds entries below the threshold", func() {
			combine := dashboard.Combine{Into: "Other", Threshold: 0.005}
			Expect(combine.Apply(histogram)).To(Equal(map[string]int64{
				"0x8086": 500,
				"0x10de": 300,
				"0x1002": 197,
				"Other":  3,
			}))
		})

		It("applies keep and threshold together", func() {
			combine := dashboard.Combine{Into: "Other", Threshold: 0.25, Keep: []string{"0x8086", "0x1002"}}
			Expect(combine.Apply(histogram)).To(Equal(map[string]int64{
				"0x8086": 500,
				"Other":  500,
			}))
		})

		It("adds to an existing target bucket", func() {
			histogram["Other"] = 10
			combine := dashboard.Combine{Into: "Other", Threshold: 0.1}
			Expect(combine.Apply(histogram)).To(Equal(map[string]int64{
				"0x8086": 500,
				"0x10de": 300,
				"0x1002": 197,
				"Other":  13,
			}))
		})

		It("preserves the total", func() {
			combine := dashboard.Combine{Into: "Other", Threshold: 0.3}
			var total int64
			for _, count := range combine.Apply(histogram) {
				total += count
			}

			Expect(total).To(BeEquivalentTo(1000))
		})

		It("leaves the input untouched", func() {
			dashboard.Combine{Into: "Other", Threshold: 0.5}.Apply(histogram)
			Expect(histogram).To(HaveLen(5))
		})

		It("leaves empty totals alone", func() {
			combine := dashboard.Combine{Into: "Other", Threshold: 0.5}
			Expect(combine.Apply(map[string]int64{"a": 0})).To(Equal(map[string]int64{"a": 0}))
			Expect(combine.Apply(map[string]int64{})).To(BeEmpty())
		})
	})
})
