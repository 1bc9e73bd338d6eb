package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/perstream/checkout/security"
	"github.com/perstream/checkout/utils"
)

type AuthMiddleware struct {
	jwtManager  *security.JWTManager
	rateLimiter *security.TieredRateLimiter
}

func CreateAuthMiddleware(jwtManager *security.JWTManager, rateLimiter *security.TieredRateLimiter) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:  jwtManager,
		rateLimiter: rateLimiter,
	}
}

// JWTMiddleware authenticates API callers and threads their identity into
// the request context, where the idempotency guard and purchase history
// read it. Health and metrics stay open for probes.
func (am *AuthMiddleware) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" || r.URL.Path == "/api/v1/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAPIError(w, utils.NewAPIError(http.StatusUnauthorized, "Authorization header required"))
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAPIError(w, utils.NewAPIError(http.StatusUnauthorized, "Invalid authorization format"))
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := am.jwtManager.ValidateToken(token)
		if err != nil {
			writeAPIError(w, utils.NewAPIError(http.StatusUnauthorized, "Invalid token"))
			return
		}

		ctx := utils.WithUserID(r.Context(), claims.UserID)
		ctx = utils.WithWalletAddress(ctx, claims.WalletAddress)
		ctx = context.WithValue(ctx, "user_roles", claims.Roles)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (am *AuthMiddleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := utils.GetUserID(r.Context())
		if userID == "" {
			userID = r.RemoteAddr
		}

		tier := am.getUserTier(r.Context())
		key := fmt.Sprintf("%s_%s", userID, r.URL.Path)

		if !am.rateLimiter.Allow(key, tier) {
			writeAPIError(w, utils.ErrTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) HeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) getUserTier(ctx context.Context) string {
	roles := ctx.Value("user_roles")
	if roles == nil {
		return "default"
	}

	userRoles, ok := roles.([]string)
	if !ok {
		return "default"
	}

	for _, role := range userRoles {
		switch role {
		case "admin", "service":
			return "service"
		case "premium":
			return "premium"
		}
	}

	return "default"
}
