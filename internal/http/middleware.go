package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fjod/go_cart/cart-api/internal/log"
)

const headerRequestID = "X-Request-ID"

type ctxKey int

const (
	userIDKey ctxKey = iota
	credentialKey
)

var allowedRoles = map[string]bool{
	"user":   true,
	"admin":  true,
	"seller": true,
}

type claims struct {
	UserID string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// RequestLogger attaches a request-scoped logger carrying the request id to the context
// and logs one line per request once it completes.
func RequestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(headerRequestID, requestID)

			logger := base.With().
				Str(log.KeyRequestID, requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info().
					Int("status", ww.Status()).
					Dur("elapsed", time.Since(start)).
					Msg("request handled")
			}()

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))
		})
	}
}

// Auth verifies the HS256 bearer token and resolves the user id from its "id" claim,
// falling back to "sub". The raw token is kept so it can be forwarded to the catalog.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context()).With().Str(log.KeyTag, "middleware.Auth").Logger()

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				logger.Debug().Msg("missing bearer token")
				respondError(w, r, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			var c claims
			_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
			if err != nil {
				logger.Info().Err(err).Msg("rejected token")
				respondError(w, r, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			userID := c.UserID
			if userID == "" {
				userID = c.Subject
			}
			if userID == "" || (c.Role != "" && !allowedRoles[c.Role]) {
				logger.Info().Str("role", c.Role).Msg("token carries no usable identity")
				respondError(w, r, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, credentialKey, raw)
			ctx = zerolog.Ctx(ctx).With().Str(log.KeyUserID, userID).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func CredentialFromContext(ctx context.Context) string {
	credential, _ := ctx.Value(credentialKey).(string)
	return credential
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
