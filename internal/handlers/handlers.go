package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sohojware/checkout-guard/internal/http/response"
	"github.com/sohojware/checkout-guard/internal/service"
	"github.com/sohojware/checkout-guard/internal/validation"
	"github.com/sohojware/checkout-guard/pkg/auth"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

type claimsCtxKey struct{}

type Handlers struct {
	checkoutService service.CheckoutService
	adminService    service.AdminService
	validator       *validation.Validator
	jwtSecret       string
}

func New(checkoutService service.CheckoutService, adminService service.AdminService, jwtSecret string) *Handlers {
	return &Handlers{
		checkoutService: checkoutService,
		adminService:    adminService,
		validator:       validation.New(),
		jwtSecret:       jwtSecret,
	}
}

// Middleware for JWT authentication
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.jwtSecret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != "admin" {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.SessionKey, claims.Sub)
			ctx = context.WithValue(ctx, claimsCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helper to get user claims from context
func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsCtxKey{}).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// Helper functions for common response patterns
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response.WriteJSON(w, statusCode, data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	code := response.CodeInternalError
	switch statusCode {
	case http.StatusBadRequest:
		code = response.CodeInvalidInput
	case http.StatusUnauthorized:
		code = response.CodeUnauthorized
	case http.StatusPaymentRequired:
		code = response.CodeLicense
	case http.StatusForbidden:
		code = response.CodeForbidden
	case http.StatusNotFound:
		code = response.CodeNotFound
	case http.StatusConflict:
		code = response.CodeConflict
	case http.StatusBadGateway:
		code = response.CodeUpstreamError
	}
	response.WriteError(w, statusCode, message, code)
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Helper to parse pagination parameters
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
