package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/auth"
	"github.com/warp/bookstore-engine/commerce"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserIDFromContext returns the authenticated user set by Authenticated.
func UserIDFromContext(ctx context.Context) (commerce.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(commerce.UserID)
	return id, ok && id != ""
}

// WithUserID returns ctx carrying an authenticated user ID.
func WithUserID(ctx context.Context, id commerce.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// Authenticated rejects requests without a valid bearer token.
func Authenticated(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header", commerce.ErrUnauthenticated)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header", commerce.ErrUnauthenticated)
				return
			}

			userID, err := tokens.Verify(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequestLogger logs one line per request with zap.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}
				if id, ok := UserIDFromContext(r.Context()); ok {
					fields = append(fields, zap.String("user_id", string(id)))
				}
				switch {
				case ww.Status() >= 500:
					log.Error("request", fields...)
				case ww.Status() >= 400:
					log.Warn("request", fields...)
				default:
					log.Info("request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
