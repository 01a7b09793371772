package cmd

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/gfxtelemetry/bigquery-shim/pkg/dashboard"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("parseValues", func() {
	DescribeTable("parses scalars with their natural type",
		func(raw string, expected interface{}) {
			values, err := parseValues(map[string]string{"value": raw})
			Expect(err).NotTo(HaveOccurred())
			Expect(values).To(HaveKeyWithValue("value", expected))
		},
		Entry("integer", "10", 10),
		Entry("float", "0.01", 0.01),
		Entry("boolean", "true", true),
		Entry("string", "Windows_NT", "Windows_NT"),
		Entry("empty", "", ""),
		Entry("list", "[a, b]", "[a, b]"),
	)
})

var _ = Describe("querySourceOptions", func() {
	var (
		opts *querySourceOptions
	)

	BeforeEach(func() {
		opts = &querySourceOptions{
			Params: map[string]string{"os": "Windows_NT"},
			Vars:   map[string]string{"sample": "0.5"},
		}
	})

	It("requires some SQL", func() {
		_, err := opts.Build("adhoc")
		Expect(err).To(MatchError("one of --sql or --sql-file is required"))
	})

	It("rejects both sources at once", func() {
		opts.SQL, opts.SQLFile = "select 1", "query.sql"
		_, err := opts.Build("adhoc")
		Expect(err).To(MatchError("--sql and --sql-file are mutually exclusive"))
	})

	It("builds a named query", func() {
		opts.SQL = "select 1"
		q, err := opts.Build("adhoc")
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Name).To(Equal("adhoc"))
		Expect(q.SQL).To(Equal("select 1"))
		Expect(q.Params).To(Equal(map[string]interface{}{"os": "Windows_NT"}))
		Expect(q.Vars).To(Equal(map[string]interface{}{"sample": 0.5}))
	})

	Context("with a SQL file", func() {
		var (
			dir string
		)

		BeforeEach(func() {
			var err error
			dir, err = ioutil.TempDir("", "bigquery-shim-cmd-")
			Expect(err).NotTo(HaveOccurred())

			opts.SQLFile = filepath.Join(dir, "query.sql")
			Expect(ioutil.WriteFile(opts.SQLFile, []byte("select {{ .sample }}"), 0644)).To(Succeed())
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("reads the template from the file", func() {
			q, err := opts.Build("adhoc")
			Expect(err).NotTo(HaveOccurred())
			Expect(q.SQL).To(Equal("select {{ .sample }}"))
		})
	})
})

var _ = Describe("selectReports", func() {
	var (
		reports = []dashboard.Report{{Key: "a.json"}, {Key: "b.json"}, {Key: "c.json"}}
	)

	It("keeps the requested reports, in configured order", func() {
		selected, err := selectReports(reports, []string{"c.json", "a.json"})
		Expect(err).NotTo(HaveOccurred())
		Expect(selected).To(Equal([]dashboard.Report{{Key: "a.json"}, {Key: "c.json"}}))
	})

	It("fails on unknown reports", func() {
		_, err := selectReports(reports, []string{"a.json", "d.json"})
		Expect(err).To(MatchError("unknown report: d.json"))
	})
})
