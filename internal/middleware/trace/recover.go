package trace

import (
	"net/http"
	"runtime/debug"

	"fintrack/internal/log"
)

// Recovery turns a panic in next into a 500 response. The panic value and
// stack are logged with the request's logger.
func Recovery(onPanic func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Panic recovered",
					"panic", rec,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path,
					"stack", string(debug.Stack()))

				if onPanic != nil {
					onPanic(w, r)
					return
				}
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
