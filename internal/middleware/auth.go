package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

type contextKey string

const scopeContextKey contextKey = "requestScope"

var redisClient *redis.Client

// InitAuthMiddleware wires the Redis client used for token blacklist checks.
func InitAuthMiddleware(client *redis.Client) {
	redisClient = client
}

// WithScope returns a context carrying the given scope, as AuthMiddleware
// would have set it.
func WithScope(ctx context.Context, scope models.Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey, scope)
}

// ScopeFromContext returns the tenant/outlet/user scope established by
// AuthMiddleware for the current request.
func ScopeFromContext(ctx context.Context) (models.Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey).(models.Scope)
	return scope, ok
}

// AuthMiddleware validates the bearer token and places the resolved Scope on
// the request context. Blacklisted tokens are rejected.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := parts[1]

		if redisClient != nil {
			blacklisted, err := redisClient.Exists(r.Context(), fmt.Sprintf("blacklist:%s", token)).Result()
			if err != nil {
				log.Printf("[AUTH] Blacklist check failed: %v", err)
			} else if blacklisted > 0 {
				http.Error(w, "Token has been revoked", http.StatusUnauthorized)
				return
			}
		}

		scope, err := validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), scopeContextKey, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateToken(tokenString string) (models.Scope, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return models.Scope{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Scope{}, fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return models.Scope{}, fmt.Errorf("missing user_id claim")
	}

	tenantID, err := uuid.Parse(fmt.Sprintf("%v", claims["tenant_id"]))
	if err != nil {
		return models.Scope{}, fmt.Errorf("invalid tenant_id claim: %w", err)
	}

	outletID, err := uuid.Parse(fmt.Sprintf("%v", claims["outlet_id"]))
	if err != nil {
		return models.Scope{}, fmt.Errorf("invalid outlet_id claim: %w", err)
	}

	return models.Scope{
		TenantID: tenantID,
		OutletID: outletID,
		UserID:   int(userID),
	}, nil
}
