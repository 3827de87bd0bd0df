package middleware

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/infrastructure/auth"
)

// Headers naming the caller when bearer authentication is disabled.
const (
	CallerHeader     = "X-Caller-Address"
	CallerRoleHeader = "X-Caller-Role"
)

// FailureRecorder counts rejected requests by reason.
type FailureRecorder interface {
	ObserveAuthFailure(reason string)
}

func recordFailure(rec FailureRecorder, reason string) {
	if rec != nil {
		rec.ObserveAuthFailure(reason)
	}
}

// AuthMiddleware creates an authentication middleware. Every request must
// carry a valid bearer token; its subject and role become the caller.
func AuthMiddleware(jwtManager *auth.JWTManager, rec FailureRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				recordFailure(rec, "missing_token")
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				recordFailure(rec, "malformed_header")
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := jwtManager.Verify(parts[1])
			if err != nil {
				recordFailure(rec, "invalid_token")
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			p := claims.Principal()
			annotateCaller(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(domain.ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// DevIdentity trusts the caller headers. It is installed instead of
// AuthMiddleware when authentication is disabled; a request without headers
// is an anonymous viewer.
func DevIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := domain.Principal{Role: domain.RoleViewer}

		if raw := r.Header.Get(CallerHeader); raw != "" {
			addr, err := domain.ParseAddress(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			p = domain.Principal{Address: addr, Role: domain.RoleParticipant}
		}
		if raw := r.Header.Get(CallerRoleHeader); raw != "" {
			p.Role = domain.Role(raw)
			if !p.Role.IsValid() {
				writeError(w, http.StatusBadRequest, domain.ErrInvalidRole.Error())
				return
			}
		}

		annotateCaller(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(domain.ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireRole lets through callers holding one of roles.
func RequireRole(rec FailureRecorder, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := domain.PrincipalFromContext(r.Context())
			if !ok {
				recordFailure(rec, "anonymous")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if !slices.Contains(roles, p.Role) {
				recordFailure(rec, "forbidden_role")
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
