package manifest_test

import (
	"github.com/gfxtelemetry/bigquery-shim/pkg/manifest"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"
)

var _ = Describe("ParseRequirement", func() {
	table.DescribeTable("valid requirements",
		func(input string, name string, op manifest.Operator, version string, canonical string) {
			req, err := manifest.ParseRequirement(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(req).To(MatchAllFields(Fields{
				"Name":     Equal(name),
				"Operator": Equal(op),
				"Version":  Equal(version),
			}))
			Expect(req.String()).To(Equal(canonical))
			Expect(req.Validate()).To(Succeed())
		},
		table.Entry("pinned", "google-cloud-bigquery == 1.16.0",
			"google-cloud-bigquery", manifest.OpEqual, "1.16.0", "google-cloud-bigquery == 1.16.0"),
		table.Entry("pinned without spaces", "google-cloud-storage==1.22.0",
			"google-cloud-storage", manifest.OpEqual, "1.22.0", "google-cloud-storage == 1.22.0"),
		table.Entry("unpinned", "regex", "regex", manifest.OpNone, "", "regex"),
		table.Entry("unpinned with padding", "  regex  ", "regex", manifest.OpNone, "", "regex"),
		table.Entry("lower bound", "six>=1.0.0", "six", manifest.OpGreaterEq, "1.0.0", "six >= 1.0.0"),
		table.Entry("strict bound", "six > 1.0.0", "six", manifest.OpGreater, "1.0.0", "six > 1.0.0"),
		table.Entry("compatible release", "requests ~= 2.24.0",
			"requests", manifest.OpCompatible, "2.24.0", "requests ~= 2.24.0"),
	)

	table.DescribeTable("invalid requirements",
		func(input string) {
			_, err := manifest.ParseRequirement(input)
			Expect(err).To(MatchError(ContainSubstring("invalid requirement")))
		},
		table.Entry("empty", ""),
		table.Entry("operator without version", "regex =="),
		table.Entry("version without operator", "regex 2020.1.1"),
		table.Entry("leading separator", "-regex"),
		table.Entry("unknown operator", "regex === 1.0.0"),
	)

	It("flags unparseable versions on validation", func() {
		req, err := manifest.ParseRequirement("regex == not-a-version")
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Validate()).To(MatchError(ContainSubstring("invalid version")))
	})
})

var _ = Describe("Requirement", func() {
	Describe(".Pinned", func() {
		It("is only true for exact versions", func() {
			Expect(manifest.MustParseRequirement("a == 1.0.0").Pinned()).To(BeTrue())
			Expect(manifest.MustParseRequirement("a >= 1.0.0").Pinned()).To(BeFalse())
			Expect(manifest.MustParseRequirement("a").Pinned()).To(BeFalse())
		})
	})

	Describe(".CanonicalName", func() {
		It("folds case and separators", func() {
			Expect(manifest.MustParseRequirement("Google_Cloud.BigQuery").CanonicalName()).
				To(Equal("google-cloud-bigquery"))
		})
	})

	table.DescribeTable(".Satisfies",
		func(requirement, version string, expected bool) {
			Expect(manifest.MustParseRequirement(requirement).Satisfies(version)).To(Equal(expected))
		},
		table.Entry("exact match", "a == 1.16.0", "1.16.0", true),
		table.Entry("exact mismatch", "a == 1.16.0", "1.16.1", false),
		table.Entry("unpinned accepts anything", "a", "2020.11.11", true),
		table.Entry("unpinned accepts garbage", "a", "???", true),
		table.Entry("garbage fails pinned", "a == 1.16.0", "???", false),
		table.Entry("not equal", "a != 1.0.0", "1.0.1", true),
		table.Entry("lower bound", "a >= 1.2.0", "1.10.0", true),
		table.Entry("upper bound", "a < 1.2.0", "1.10.0", false),
		table.Entry("compatible within minor", "a ~= 1.4.2", "1.4.9", true),
		table.Entry("compatible outside minor", "a ~= 1.4.2", "1.5.0", false),
	)
})
