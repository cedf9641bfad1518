package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

// unmeasured paths are polled by scrapers and health checks.
var unmeasured = map[string]bool{"/metrics": true, "/health": true}

// MetricsMiddleware counts and times requests by chi route pattern, so
// /v1/items/1 and /v1/items/2 share a series. Requests that matched no
// route are labelled "unmatched".
func MetricsMiddleware(metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unmeasured[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			metrics.ObserveHTTP(routeOf(r), statusToLabel(ww.Status()), time.Since(start))
		})
	}
}

func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusToLabel folds a status code into "ok" or "error". Zero means the
// handler never wrote a header, which net/http sends as 200.
func statusToLabel(code int) string {
	switch {
	case code == 0, code >= 200 && code < 400:
		return "ok"
	default:
		return "error"
	}
}
