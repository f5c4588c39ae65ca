package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
)

// Recoverer answers a handler panic with a WRT_SERVER error body. Aborted
// handlers keep panicking so net/http can drop the connection.
func Recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				log.Error("handler panicked",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r)),
					zap.Any("panic", rvr),
					zap.ByteString("stack", debug.Stack()),
				)
				appErr := core.NewAppError(core.ErrServer, "internal server error")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(appErr.Code.HTTPStatus())
				_ = json.NewEncoder(w).Encode(appErr)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
