package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/observability"
)

type ctxKey int

const (
	reqIDKey ctxKey = iota
	reqLogKey
)

// Order matters: the scoped logger must exist before the access log and
// panic handler read it, and a recovered panic must reach the access log
// as a 500.
func (s *Server) registerMiddleware() {
	s.mux.Use(s.requestScope, s.accessLog, s.recoverPanics)
}

// requestScope stamps X-Request-ID and attaches a logger carrying the
// request id plus any ride or driver named in the path.
func (s *Server) requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = newID()
		}
		w.Header().Set("X-Request-ID", reqID)

		log := s.logger.With("request_id", reqID)
		if attrs := pathEntities(r); len(attrs) > 0 {
			log = log.With(attrs...)
		}
		ctx := context.WithValue(r.Context(), reqIDKey, reqID)
		ctx = context.WithValue(ctx, reqLogKey, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeTemplate(r)
		code := strconv.Itoa(rec.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())

		log := s.reqLog(r)
		if rec.upgraded {
			log.InfoContext(r.Context(), "ws_upgrade", "route", route, "client", clientIP(r))
			return
		}
		log.Log(r.Context(), levelFor(route, rec.status), "http_request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"client", clientIP(r),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			route := routeTemplate(r)
			observability.HTTPPanics.WithLabelValues(route).Inc()
			s.reqLog(r).ErrorContext(r.Context(), "handler panic", "route", route, "panic", v, "stack", string(debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "request_id": requestID(r.Context())})
		}()
		next.ServeHTTP(w, r)
	})
}

// reqLog falls back to the server logger for requests that never passed
// through requestScope, such as unmatched routes.
func (s *Server) reqLog(r *http.Request) *slog.Logger {
	if log, ok := r.Context().Value(reqLogKey).(*slog.Logger); ok {
		return log
	}
	return s.logger
}

// levelFor keeps scrape and liveness traffic out of the info stream.
func levelFor(route string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case route == "/metrics", route == "/healthz", route == "/ready":
		return slog.LevelDebug
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// pathEntities lifts ride_id and driver_id route variables into log attrs.
func pathEntities(r *http.Request) []any {
	vars := mux.Vars(r)
	var attrs []any
	for _, k := range []string{"ride_id", "driver_id"} {
		if v := vars[k]; v != "" {
			attrs = append(attrs, k, v)
		}
	}
	return attrs
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("connection does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.upgraded = true
	}
	return conn, rw, err
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(reqIDKey).(string)
	return id
}

// routeTemplate keeps metric cardinality bounded: /rides/{ride_id}, never
// the concrete id.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// clientIP reads RemoteAddr after handlers.ProxyHeaders has applied any
// X-Forwarded-For or X-Real-IP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
