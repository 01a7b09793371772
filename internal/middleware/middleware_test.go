package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gfxtelemetry/bigquery-shim/internal/middleware"
	"github.com/gfxtelemetry/bigquery-shim/internal/telem"

	"github.com/getsentry/sentry-go"
	kitlog "github.com/go-kit/kit/log"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	goamiddleware "goa.design/goa/v3/middleware"
)

var _ = Describe("ObserveHTTP", func() {
	var (
		output   *bytes.Buffer
		handler  http.Handler
		req      *http.Request
		recorder *httptest.ResponseRecorder
		seenID   string
	)

	BeforeEach(func() {
		output = new(bytes.Buffer)
		req = httptest.NewRequest("GET", "/data/general-statistics.json", nil)
		recorder = httptest.NewRecorder()

		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenID, _ = r.Context().Value(goamiddleware.RequestIDKey).(string)
			telem.LoggerFrom(r.Context()).Log("event", "handled")

			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("short and stout"))
		})
	})

	JustBeforeEach(func() {
		middleware.ObserveHTTP(kitlog.NewLogfmtLogger(output))(handler).ServeHTTP(recorder, req)
	})

	It("passes the response through", func() {
		Expect(recorder.Code).To(Equal(http.StatusTeapot))
		Expect(recorder.Body.String()).To(Equal("short and stout"))
	})

	It("assigns a request ID, visible to the handler", func() {
		Expect(seenID).NotTo(BeEmpty())
		Expect(seenID).NotTo(Equal("unknown"))
	})

	It("stashes a request logger in the context", func() {
		lines := strings.Split(strings.TrimSpace(output.String()), "\n")
		Expect(lines[0]).To(ContainSubstring("request_id=" + seenID))
		Expect(lines[0]).To(ContainSubstring("event=handled"))
	})

	It("logs the request", func() {
		lines := strings.Split(strings.TrimSpace(output.String()), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[1]).To(ContainSubstring("event=http_request"))
		Expect(lines[1]).To(ContainSubstring("http_method=GET"))
		Expect(lines[1]).To(ContainSubstring("http_path=/data/general-statistics.json"))
		Expect(lines[1]).To(ContainSubstring("http_status=418"))
		Expect(lines[1]).To(ContainSubstring("http_bytes=15"))
	})

	Context("with a request ID header", func() {
		BeforeEach(func() {
			req.Header.Set("X-Request-Id", "req-123")
		})

		It("keeps it", func() {
			Expect(seenID).To(Equal("req-123"))
		})
	})

	Context("with an oversized request ID header", func() {
		BeforeEach(func() {
			req.Header.Set("X-Request-Id", strings.Repeat("a", 129))
		})

		It("truncates it", func() {
			Expect(seenID).To(Equal(strings.Repeat("a", 128)))
		})
	})
})

var _ = Describe("ObserveHTTP with Sentry", func() {
	var (
		events   []*sentry.Event
		previous *sentry.Client
		status   int
	)

	BeforeEach(func() {
		events = nil
		status = http.StatusInternalServerError

		client, err := sentry.NewClient(sentry.ClientOptions{
			BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
				events = append(events, event)
				return nil
			},
		})
		Expect(err).NotTo(HaveOccurred())

		previous = sentry.CurrentHub().Client()
		sentry.CurrentHub().BindClient(client)
	})

	AfterEach(func() {
		sentry.CurrentHub().BindClient(previous)
	})

	JustBeforeEach(func() {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		req := httptest.NewRequest("GET", "/data/general-statistics.json", nil)
		req.Header.Set("X-Request-Id", "req-500")

		middleware.ObserveHTTP(kitlog.NewNopLogger())(handler).ServeHTTP(httptest.NewRecorder(), req)
	})

	It("captures server errors, tagged with the request ID", func() {
		Expect(events).To(HaveLen(1))
		Expect(events[0].Message).To(Equal("Internal Server Error"))
		Expect(events[0].Tags).To(HaveKeyWithValue("request_id", "req-500"))
	})

	Context("when the handler returns a client error", func() {
		BeforeEach(func() {
			status = http.StatusNotFound
		})

		It("captures nothing", func() {
			Expect(events).To(BeEmpty())
		})
	})
})
