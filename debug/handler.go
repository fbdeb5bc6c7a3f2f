package debug

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHandler serves pprof, Prometheus metrics, and an index of both.
func NewHandler(logger log.Logger) http.Handler {
	router := mux.NewRouter()
	router.StrictSlash(true)

	get := router.Methods("GET").Subrouter()

	get.Path("/debug/pprof/").HandlerFunc(pprof.Index)
	get.Path("/debug/pprof/cmdline").HandlerFunc(pprof.Cmdline)
	get.Path("/debug/pprof/profile").HandlerFunc(pprof.Profile)
	get.Path("/debug/pprof/symbol").HandlerFunc(pprof.Symbol)
	get.Path("/debug/pprof/trace").HandlerFunc(pprof.Trace)
	for _, name := range []string{"goroutine", "threadcreate", "heap", "allocs", "block", "mutex"} {
		get.Path("/debug/pprof/" + name).Handler(pprof.Handler(name))
	}

	get.Path("/metrics").Handler(promhttp.Handler())

	get.Path("/").Handler(indexHandler(router))

	router.Use(
		LoggingMiddleware(log.With(logger, "module", "debug")),
		// MetricsMiddleware, // debug endpoint metrics just pollute the dashboards
		GZipMiddleware,
	)

	return router
}

func indexHandler(r *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sections := map[string][]string{}
		r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
			path, _ := route.GetPathTemplate()
			switch {
			case path == "" || path == "/":
			case strings.HasPrefix(path, "/debug/"):
				sections["debug"] = append(sections["debug"], path)
			default:
				sections["escrow"] = append(sections["escrow"], path)
			}
			return nil
		})

		w.Header().Set("content-type", "text/html; charset=utf-8")

		for _, name := range []string{"debug", "escrow"} {
			paths := sections[name]
			sort.Strings(paths)
			fmt.Fprintf(w, "<h1>%s</h1>\n<ul>\n", name)
			for _, path := range paths {
				fmt.Fprintf(w, "<li><a href=\"%[1]s\">%[1]s</a></li>\n", path)
			}
			fmt.Fprintf(w, "</ul>\n")
		}
	})
}
