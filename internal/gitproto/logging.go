package gitproto

import (
	"context"
	"net/http"
	"time"
)

// routeInfo is attached to the request context before dispatch so that
// route() can record which repo/service it resolved, and instrument can
// include that in the single log line emitted per request.
type routeInfo struct {
	repo    string
	service string
}

type routeInfoKey struct{}

func withRouteInfo(ctx context.Context, info *routeInfo) context.Context {
	return context.WithValue(ctx, routeInfoKey{}, info)
}

func routeInfoFromContext(ctx context.Context) *routeInfo {
	info, _ := ctx.Value(routeInfoKey{}).(*routeInfo)
	return info
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// instrument wraps next with structured logging, Prometheus metrics, and (if
// configured) an OpenTelemetry span. Exactly one log line is emitted per
// request, after it completes.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx, span := startRequestSpan(r.Context(), r)
		info := &routeInfo{}
		ctx = withRouteInfo(ctx, info)
		r = r.WithContext(ctx)

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endRequestSpan(span, rec.status)

		route := routeLabel(r.URL.Path)
		s.metrics.observe(r.Method, route, rec.status, duration)

		s.logger.Info("git request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
			"bytes", rec.bytes,
			"repo", info.repo,
			"service", info.service,
			"remote_addr", s.clientIP.fromRequest(r),
		)
	})
}

func routeLabel(path string) string {
	if m := routePattern.FindStringSubmatch(path); m != nil {
		return "/<repo>/" + m[2]
	}
	if path == "/metrics" {
		return "/metrics"
	}
	return "other"
}
