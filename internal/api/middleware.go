package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

// Request-scoped context keys.
const (
	TenantIDKey  contextKey = "tenantID"
	TraceIDKey   contextKey = "traceID"
	RequestIDKey contextKey = "requestID"
)

// Headers understood and echoed by the API.
const (
	TenantIDHeader  = "X-Tenant-ID"
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

var tracer = otel.Tracer("kite-api")

// TenantMiddleware scopes the request to the tenant named in X-Tenant-ID.
// Every case, rule and plan route sits behind it. The id becomes part of
// event subjects and cache keys, so anything outside [A-Za-z0-9_-] is refused.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantIDHeader)
		switch {
		case tenantID == "":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Tenant-ID header is required"})
			return
		case !domain.ValidTenantID(tenantID):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Tenant-ID must be 1-64 letters, digits, '-' or '_'"})
			return
		}

		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("tenant.id", tenantID))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), TenantIDKey, tenantID)))
	})
}

// TracingMiddleware opens the request span and assigns the request and
// trace ids that collection logs and webhook acknowledgements carry.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		// No SDK is installed by default, so the span id may be empty.
		traceID := requestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			traceID = sc.TraceID().String()
		}

		ctx = context.WithValue(ctx, RequestIDKey, requestID)
		ctx = context.WithValue(ctx, TraceIDKey, traceID)
		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one access line per request. Server errors log
// at error level and client errors at warn.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rec.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		// The tenant comes from the header: TenantMiddleware runs on an
		// inner group and its context does not flow back out here.
		slog.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("tenant_id", r.Header.Get(TenantIDHeader)),
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("trace_id", GetTraceID(r.Context())),
		)
	})
}

// CORSMiddleware lets the collections portal call the API from the browser.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantIDHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// RecoverMiddleware turns a handler panic into a 500 so one bad request
// cannot take the worker and scheduler down with the process.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("handler panicked",
					"panic", p,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// GetTenantID returns the tenant the request is scoped to.
func GetTenantID(ctx context.Context) string {
	return contextString(ctx, TenantIDKey)
}

// GetTraceID returns the request's trace id.
func GetTraceID(ctx context.Context) string {
	return contextString(ctx, TraceIDKey)
}

// GetRequestID returns the request id assigned by TracingMiddleware.
func GetRequestID(ctx context.Context) string {
	return contextString(ctx, RequestIDKey)
}

func contextString(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
