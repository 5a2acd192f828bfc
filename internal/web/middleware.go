package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Mist54/GenTemplate/internal/diag"
)

// Logger 为每个请求注入带 method/path/remote_ip 的 zerolog 子日志器，
// 处理结束后记录状态码与耗时。
func Logger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqLogger := logger.With().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", req.RemoteAddr).
				Str("req_id", middleware.GetReqID(req.Context())).
				Logger()

			ctx := reqLogger.WithContext(req.Context())
			req = req.WithContext(ctx)

			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)

			dur := time.Since(start)
			reqLogger.Debug().Int("status", ww.Status()).Int64("dur_ms", dur.Milliseconds()).Msg("request")
			diag.ObserveDuration("web", req.Method, dur.Milliseconds())
		})
	}
}
