package middleware

import (
	"net/http"
	"time"

	"github.com/sentra-io/devicetrust/internal/util/logger"
)

// RequestLogger logs one line per request with method, path, status and
// latency. Client IP is included when the ClientIP middleware ran first.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		ip := ""
		if resolved, ok := ClientIPFromContext(r.Context()); ok {
			ip = resolved.String()
		}
		logger.Info("request method=%s path=%s status=%d latency_ms=%d ip=%s",
			r.Method, r.URL.Path, ww.status, time.Since(start).Milliseconds(), ip)
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
