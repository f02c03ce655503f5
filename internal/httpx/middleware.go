package httpx

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/avoinelab/ssobridge/internal/observability/logger"
)

// Middleware is the composable handler wrapper shape.
type Middleware func(http.Handler) http.Handler

// WithRequestID propagates the client's X-Request-ID or generates one,
// exposes it on the response, and scopes the context logger with it.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if rid == "" {
				var b [16]byte
				_, _ = rand.Read(b[:])
				rid = hex.EncodeToString(b[:])
			}

			w.Header().Set("X-Request-ID", rid)

			l := logger.From(r.Context()).With(logger.RequestID(rid))
			ctx := logger.ToContext(r.Context(), l)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithLogging emits one access-log line per request.
func WithLogging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.From(r.Context()).Info("http request",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.Status(status),
				logger.Duration(time.Since(start)),
			)
		})
	}
}

// statusRecorder captures the written status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}
