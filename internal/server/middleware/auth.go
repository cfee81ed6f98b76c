package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticate resolves the caller from the request and attaches it to the
// context. A bearer JWT yields its subject; the static admin key, sent as
// X-API-Key or as a bearer token, yields adminIdentity with admin rights.
// Requests without credentials pass through anonymously; invalid
// credentials are rejected.
func Authenticate(tokens TokenVerifier, adminKey, adminIdentity string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			var p auth.Principal
			if adminKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) == 1 {
				p = auth.Principal{Identity: adminIdentity, Admin: true}
			} else {
				claims, err := tokens.Verify(token)
				if err != nil {
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				p = auth.Principal{Identity: claims.Subject, Admin: claims.Admin}
			}
			recordPrincipal(w, p)
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFrom(r.Context()); !ok {
			writeUnauthorized(w, "missing authentication token")
			return
		}
		next(w, r)
	}
}

// RequireAdmin rejects callers without admin rights.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			writeUnauthorized(w, "missing authentication token")
			return
		}
		if !p.Admin {
			writeJSONError(w, http.StatusForbidden, "admin credentials required")
			return
		}
		next(w, r)
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="opinionsd"`)
	writeJSONError(w, http.StatusUnauthorized, msg)
}

// writeJSONError writes {"error": msg}. Messages are fixed strings.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
