package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// Recovery returns a middleware that recovers from panics in downstream
// handlers, logs the stack trace, and returns a 500 instead of taking
// the process down.
func Recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return RecoveryWithWriter(logger, func(w http.ResponseWriter, r *http.Request, err interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"internal server error"}`)
	})
}

// RecoveryWithWriter is Recovery with a caller-supplied error responder,
// so callers that want a different error body shape don't need to
// duplicate the recover/log plumbing.
func RecoveryWithWriter(logger *zap.Logger, writeError func(w http.ResponseWriter, r *http.Request, err interface{})) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", r.RemoteAddr),
						zap.Any("panic", err),
						zap.ByteString("stack", debug.Stack()),
					)
					writeError(w, r, err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
