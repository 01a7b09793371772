package bigquery

import (
	bq "cloud.google.com/go/bigquery"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("NormaliseColumn", func() {
	table.DescribeTable("converts to snake_case",
		func(input, expected string) {
			Expect(NormaliseColumn(input)).To(Equal(expected))
		},
		table.Entry("already snake", "total_pings", "total_pings"),
		table.Entry("camel", "totalPings", "total_pings"),
		table.Entry("pascal", "PingFraction", "ping_fraction"),
		table.Entry("acronym prefix", "HTTPStatus", "http_status"),
		table.Entry("acronym suffix", "deviceID", "device_id"),
		table.Entry("digits", "d3d11Status", "d3d11_status"),
		table.Entry("spaces", "Device ID", "device_id"),
		table.Entry("punctuation runs", "os.version--name", "os_version_name"),
		table.Entry("leading and trailing junk", "__count__", "count"),
	)
})

var _ = Describe("NormaliseRow", func() {
	It("normalises every column", func() {
		row, err := NormaliseRow(map[string]bq.Value{"totalPings": int64(10), "pingFraction": 0.1})
		Expect(err).NotTo(HaveOccurred())
		Expect(row).To(Equal(Row{"total_pings": int64(10), "ping_fraction": 0.1}))
	})

	It("normalises nested records and repeated records", func() {
		row, err := NormaliseRow(map[string]bq.Value{
			"tdrToVendor": []bq.Value{
				map[string]bq.Value{"vendorID": "0x10de", "sessionCount": int64(3)},
			},
			"osInfo": map[string]bq.Value{"osName": "Windows"},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(row).To(Equal(Row{
			"tdr_to_vendor": []bq.Value{
				map[string]bq.Value{"vendor_id": "0x10de", "session_count": int64(3)},
			},
			"os_info": map[string]bq.Value{"os_name": "Windows"},
		}))
	})

	It("leaves scalar repeated values untouched", func() {
		row, err := NormaliseRow(map[string]bq.Value{"reasons": []bq.Value{int64(1), nil}})
		Expect(err).NotTo(HaveOccurred())
		Expect(row).To(Equal(Row{"reasons": []bq.Value{int64(1), nil}}))
	})

	It("fails when columns collide", func() {
		_, err := NormaliseRow(map[string]bq.Value{"totalPings": 1, "total_pings": 2})
		Expect(err).To(MatchError(ContainSubstring(`normalise to "total_pings"`)))
	})

	It("fails when a column has no usable characters", func() {
		_, err := NormaliseRow(map[string]bq.Value{"__": 1})
		Expect(err).To(MatchError(ContainSubstring("no usable characters")))
	})
})
