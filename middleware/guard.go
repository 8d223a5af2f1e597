package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	authcore "github.com/govportal/authcore"
	"github.com/govportal/authcore/cookie"
	"github.com/govportal/authcore/jwt"
	"github.com/govportal/authcore/session"
)

// SessionHeader carries the session ID on authenticated requests.
const SessionHeader = "X-Session-Id"

// CSRFHeader carries the double-submit CSRF token on mutating requests.
const CSRFHeader = "X-CSRF-Token"

type claimsContextKey struct{}
type sessionContextKey struct{}

// ClaimsFromContext returns the access-token claims injected by [Authenticate].
func ClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.AccessClaims)
	return claims, ok
}

// SessionFromContext returns the session injected by [RequireSession].
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok
}

// Authenticate opens the access-token cookie, validates the token, and
// injects its claims. Requests without a valid token get 401.
func Authenticate(engine *authcore.Engine, codec *cookie.Codec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := codec.AccessToken(r)
			if err != nil {
				unauthorized(w)
				return
			}
			claims, err := engine.ValidateAccess(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = authcore.WithClientIP(ctx, clientIP(r))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession validates the X-Session-Id header against the session
// registry. Must run inside [Authenticate]: the session owner has to match
// the token subject.
func RequireSession(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			sess, err := engine.ValidateSession(r.Context(), r.Header.Get(SessionHeader))
			if err != nil || sess.UserID != claims.UserID {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCSRF enforces the double-submit check on mutating methods. Safe
// methods pass through untouched.
func RequireCSRF(codec *cookie.Codec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if err := codec.VerifyCSRF(r, r.Header.Get(CSRFHeader)); err != nil {
				writeJSON(w, http.StatusForbidden, map[string]any{
					"success": false,
					"message": "CSRF token missing or invalid",
					"code":    "CSRF_FAILED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission authorizes the authenticated role for one
// resource/action pair. Denials return the portal's 403 payload.
func RequirePermission(engine *authcore.Engine, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if err := engine.Authorize(claims.Role, resource, action); err != nil {
				var pe *authcore.PermissionError
				if errors.As(err, &pe) {
					writeJSON(w, http.StatusForbidden, map[string]any{
						"success":          false,
						"message":          "You do not have permission to perform this action",
						"code":             "INSUFFICIENT_PERMISSIONS",
						"required":         pe.Required(),
						"userRole":         pe.Role,
						"availableActions": pe.Available,
					})
					return
				}
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"success": false,
		"message": "Authentication required",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
