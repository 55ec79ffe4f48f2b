package middleware

import (
	"net/http"

	"infohub/internal/reqctx"

	"github.com/google/uuid"
)

// RequestID помечает каждый запрос идентификатором для сквозного логирования.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx := reqctx.WithRequestID(r.Context(), rid)
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
