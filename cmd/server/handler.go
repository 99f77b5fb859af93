package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/capetl/internal/pipelineapi"
)

// maxBodyBytes bounds API request bodies; raw feed documents run to a few MB.
const maxBodyBytes = 64 << 20

// apiDeps is what the public listener needs.
type apiDeps struct {
	logger      log.Logger
	api         *pipelineapi.API
	healthz     http.HandlerFunc
	readyz      http.HandlerFunc
	metricsMW   func(http.Handler) http.Handler
	trustedHops int
}

// newAPIHandler builds the router and wraps it in the middleware chain.
// Wrappers are listed inside out: the last one sees the raw request first.
func newAPIHandler(d apiDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		// JSON responses only
		middleware.Compress(5, "application/json"),
		// http.route on logger and span from the chi pattern
		httpmw.AnnotateHTTPRoute,
		httpmw.AccessLog(),
		// 413 past the limit
		httpmw.MaxBody(maxBodyBytes),
	)

	// health endpoints on the public listener too
	r.Get("/-/healthy", d.healthz)
	r.Get("/-/ready", d.readyz)
	// /api/v1 routes
	d.api.RegisterRoutes(r)

	var h http.Handler = r
	// request-scoped logger, inner so it sees trace and route
	h = httpmw.WithLogger(d.logger)(h)
	// echo trace/span ids to callers of recorded requests
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		// no spans for health checks
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if d.metricsMW != nil {
		h = d.metricsMW(h)
	}
	// resolved client ip for everything downstream
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: d.trustedHops})(h)
	// request id outer so every layer sees it
	h = httpmw.RequestID("X-Request-Id")(h)
	// turn panics anywhere below into logged 500s
	h = httpmw.Recover(d.logger, nil)(h)
	// security headers on every response, outermost
	return httpmw.SecurityHeaders(h)
}
