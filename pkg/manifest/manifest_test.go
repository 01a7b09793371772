package manifest_test

import (
	"bytes"
	"io/ioutil"
	"strings"

	"github.com/gfxtelemetry/bigquery-shim/pkg/manifest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Default", func() {
	var (
		m *manifest.Manifest
	)

	BeforeEach(func() {
		m = manifest.Default()
	})

	It("declares a valid semantic version", func() {
		v, err := m.SemanticVersion()
		Expect(err).NotTo(HaveOccurred())
		Expect(v.String()).To(Equal("0.4.0"))
	})

	It("declares exactly three dependencies, in order", func() {
		requires := []string{}
		for _, req := range m.Requires {
			requires = append(requires, req.String())
		}

		Expect(requires).To(Equal([]string{
			"google-cloud-bigquery == 1.16.0",
			"google-cloud-storage == 1.22.0",
			"regex",
		}))
	})

	It("pins the cloud clients but not regex", func() {
		Expect(m.Requires[0].Pinned()).To(BeTrue())
		Expect(m.Requires[1].Pinned()).To(BeTrue())
		Expect(m.Requires[2].Pinned()).To(BeFalse())
	})

	It("packages only itself", func() {
		Expect(m.Packages).To(Equal([]string{"bigquery_shim"}))
		Expect(m.Packages[0]).To(Equal(m.Name))
	})

	It("is valid", func() {
		Expect(m.Validate()).To(Succeed())
	})

	It("returns a fresh copy", func() {
		m.Packages[0] = "mutated"
		Expect(manifest.Default().Packages).To(Equal([]string{"bigquery_shim"}))
	})

	Describe(".Render", func() {
		It("reproduces the published setup.py", func() {
			expected, err := ioutil.ReadFile("testdata/setup.py")
			Expect(err).NotTo(HaveOccurred())

			var buffer bytes.Buffer
			Expect(m.Render(&buffer)).To(Succeed())
			Expect(buffer.String()).To(Equal(string(expected)))
		})

		Context("with several packages", func() {
			BeforeEach(func() {
				m.Packages = append(m.Packages, "bigquery_shim.trends")
			})

			It("renders a comma separated list", func() {
				var buffer bytes.Buffer
				Expect(m.Render(&buffer)).To(Succeed())
				Expect(buffer.String()).To(ContainSubstring(
					`packages=["bigquery_shim", "bigquery_shim.trends"],`))
			})
		})
	})

	Describe(".Satisfies", func() {
		It("accepts the pinned versions", func() {
			Expect(m.Satisfies("google-cloud-bigquery", "1.16.0")).To(BeTrue())
			Expect(m.Satisfies("google_cloud_storage", "1.22.0")).To(BeTrue())
			Expect(m.Satisfies("regex", "2020.11.13")).To(BeTrue())
		})

		It("rejects other versions", func() {
			Expect(m.Satisfies("google-cloud-bigquery", "1.17.0")).To(BeFalse())
		})

		It("rejects unknown dependencies", func() {
			Expect(m.Satisfies("numpy", "1.0.0")).To(BeFalse())
		})
	})
})

var _ = Describe("Load", func() {
	It("parses the YAML form of the default manifest", func() {
		m, err := manifest.Load("testdata/manifest.yaml")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(manifest.Default()))
	})

	It("fails for missing files", func() {
		_, err := manifest.Load("testdata/missing.yaml")
		Expect(err).To(MatchError(ContainSubstring("failed to open manifest")))
	})

	Context("with invalid manifest", func() {
		var (
			m *manifest.Manifest
		)

		BeforeEach(func() {
			var err error
			m, err = manifest.Load("testdata/invalid.yaml")
			Expect(err).NotTo(HaveOccurred(), "invalid manifests should still parse")
		})

		It("reports every violation", func() {
			err := m.Validate()
			Expect(err).To(HaveOccurred())

			lines := strings.Split(err.Error(), "\n")
			Expect(lines).To(HaveLen(4))
			Expect(lines).To(ContainElement(ContainSubstring("invalid version")))
			Expect(lines).To(ContainElement(ContainSubstring("do not include bigquery_shim")))
			Expect(lines).To(ContainElement(ContainSubstring(`storage has invalid version "nope"`)))
			Expect(lines).To(ContainElement(ContainSubstring("Google_Cloud.BigQuery is declared more than once")))
		})
	})
})

var _ = Describe("Parse", func() {
	It("rejects unknown fields", func() {
		_, err := manifest.Parse(strings.NewReader("name: x\nentry_points: {}\n"))
		Expect(err).To(MatchError(ContainSubstring("failed to parse manifest")))
	})

	It("rejects malformed requirements", func() {
		_, err := manifest.Parse(strings.NewReader("name: x\ninstall_requires: [\"regex ==\"]\n"))
		Expect(err).To(MatchError(ContainSubstring("invalid requirement")))
	})

	Context("with empty manifest", func() {
		It("fails validation", func() {
			m := &manifest.Manifest{}
			err := m.Validate()
			Expect(err).To(MatchError(ContainSubstring("manifest has no name")))
			Expect(err).To(MatchError(ContainSubstring("manifest declares no packages")))
		})
	})
})
