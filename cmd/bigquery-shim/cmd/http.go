package cmd

import (
	"errors"
	"net/http"
	"os"

	"github.com/gfxtelemetry/bigquery-shim/internal/middleware"
	"github.com/gfxtelemetry/bigquery-shim/internal/telem"
	"github.com/gfxtelemetry/bigquery-shim/pkg/store"

	kitlog "github.com/go-kit/kit/log"
	goahttp "goa.design/goa/v3/http"
	httpmw "goa.design/goa/v3/http/middleware"
)

// buildHTTPServer serves data files from the store, at the same paths the dashboard
// fetches them: GET /data/general-statistics.json reads the key
// data/general-statistics.json.
func buildHTTPServer(logger kitlog.Logger, addr string, s store.Store, allowOrigin string, debug bool) *http.Server {
	var mux goahttp.Muxer = goahttp.NewMuxer()

	data := dataHandler(mux, s, allowOrigin)
	for _, verb := range []string{"GET", "HEAD"} {
		logger.Log("event", "mount", "verb", verb, "pattern", "/data/{key}")
		mux.Handle(verb, "/data/{key}", data)
	}

	mux.Handle("GET", "/health/check", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all endpoints, and run in reverse order.
	var handler http.Handler = mux
	{
		if debug {
			handler = httpmw.Debug(mux, os.Stderr)(handler)
		}

		// Default observability, request logging etc
		handler = middleware.ObserveHTTP(logger)(handler)
	}

	return &http.Server{Addr: addr, Handler: handler}
}

func dataHandler(mux goahttp.Muxer, s store.Store, allowOrigin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Vars are unescaped, and may hold an encoded ../ that the store will reject
		key := "data/" + mux.Vars(r)["key"]
		content, err := s.Get(r.Context(), key)
		if err == store.ErrNotFound || errors.Is(err, store.ErrInvalidKey) {
			http.NotFound(w, r)
			return
		}

		if err != nil {
			telem.LoggerFrom(r.Context()).Log("event", "data.get_failed", "key", key, "error", err)
			http.Error(w, "failed to read data file", http.StatusInternalServerError)
			return
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if r.Method == http.MethodHead {
			return
		}

		w.Write(content)
	}
}
