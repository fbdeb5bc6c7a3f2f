package debug

import (
	"net/http"
	"strconv"
	"time"

	"escrow/metrics"

	"github.com/NYTimes/gziphandler"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
)

func GZipMiddleware(next http.Handler) http.Handler {
	return gziphandler.GzipHandler(next)
}

// LoggingMiddleware logs one line per request at debug level.
func LoggingMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			defer func(b time.Time) {
				level.Debug(logger).Log(
					"remote_addr", r.RemoteAddr,
					"route", getRouteName(r),
					"code", sw.Code(),
					"bytes", sw.Written(),
					"took", time.Since(b).Truncate(time.Microsecond),
				)
			}(time.Now())

			next.ServeHTTP(sw, r)
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		sw := newStatusWriter(w)
		defer func(b time.Time) {
			route := getRouteName(r)
			code := strconv.Itoa(sw.Code())
			sec := time.Since(b).Seconds()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(route, code).Observe(sec)
		}(time.Now())

		next.ServeHTTP(sw, r)
	})
}

// getRouteName only works if it's called via mux.Router.Use(middleware).
// If you try to decorate an http.Handler, it won't identify the route.
func getRouteName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
		if pathtpl, _ := route.GetPathTemplate(); pathtpl != "" {
			return r.Method + " " + pathtpl
		}
	}
	return r.Method + " " + r.URL.Path
}

//
//
//

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter

	status  int
	written int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w}
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.status == 0 {
		sw.status = status
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(p []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(p)
	sw.written += int64(n)
	return n, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (sw *statusWriter) Code() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

func (sw *statusWriter) Written() int64 {
	return sw.written
}
