package middleware

import (
	"net/http"
	"strings"

	"infohub/internal/logger"
	"infohub/internal/reqctx"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTAuth проверяет access-токен и кладёт user_id в контекст запроса.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.WithCtx(r.Context()).Warn("JWTAuth: отсутствует access token")
				http.Error(w, "missing access token", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WithCtx(r.Context()).Warn("JWTAuth: неверный или просроченный токен", zap.Error(err))
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			userID, ok1 := claims["user_id"].(float64)
			tokenType, ok2 := claims["token_type"].(string)
			if !ok1 || !ok2 || tokenType != "access" {
				logger.WithCtx(r.Context()).Warn("JWTAuth: недопустимый payload", zap.Any("claims", claims))
				http.Error(w, "invalid token payload", http.StatusUnauthorized)
				return
			}

			ctx := reqctx.WithUserID(r.Context(), int(userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
