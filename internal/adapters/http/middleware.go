package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	requestIDHeader   = "X-Request-Id"
	maxRequestIDBytes = 128
)

// requestLog travels in the request context so handlers deeper in the chain
// can annotate the access log line written by the outermost middleware.
type requestLog struct {
	requestID string
	accountID string
}

type requestLogContextKey struct{}

func requestLogFromContext(ctx context.Context) *requestLog {
	if ctx == nil {
		return nil
	}
	entry, _ := ctx.Value(requestLogContextKey{}).(*requestLog)
	return entry
}

func requestIDFromContext(ctx context.Context) string {
	if entry := requestLogFromContext(ctx); entry != nil {
		return entry.requestID
	}
	return ""
}

// noteAccount records the authenticated account for the access log.
func noteAccount(ctx context.Context, accountID string) {
	if entry := requestLogFromContext(ctx); entry != nil {
		entry.accountID = accountID
	}
}

// requestIDMiddleware keeps a client-supplied id only when it is short and
// printable, since it is echoed in logs and response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestLogContextKey{}, &requestLog{requestID: requestID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDBytes {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// loggedRouteParams are copied from the matched route into the access log.
var loggedRouteParams = []struct{ param, attr string }{
	{"documentID", "document_id"},
	{"publicID", "public_id"},
	{"workspaceID", "workspace_id"},
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		attrs := []any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", clientIP(r),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			attrs = append(attrs, "route", rctx.RoutePattern())
			for _, p := range loggedRouteParams {
				if v := rctx.URLParam(p.param); v != "" {
					attrs = append(attrs, p.attr, v)
				}
			}
		}
		if entry := requestLogFromContext(r.Context()); entry != nil && entry.accountID != "" {
			attrs = append(attrs, "account_id", entry.accountID)
		}
		if ua := r.UserAgent(); ua != "" {
			attrs = append(attrs, "user_agent", ua)
		}

		switch {
		case recorder.statusCode >= 500:
			slog.Error("http_request", attrs...)
		case recorder.statusCode >= 400:
			slog.Warn("http_request", attrs...)
		case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
			slog.Debug("http_request", attrs...)
		default:
			slog.Info("http_request", attrs...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Flush keeps streamed document content flowing through the recorder.
func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
