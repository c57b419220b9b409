package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication on the book routes.
// If apiKey is empty the middleware is a no-op; the server logs a warning
// once at startup.
//
// Protected routes must supply:
//
//	Authorization: Bearer <apiKey>
//
// The presented token is never logged, only its presence.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing Authorization header", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="bookqa"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "Se requiere autenticación."})
			return
		}
		if !tokensEqual(token, apiKey) {
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="bookqa" error="invalid_token"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "Token inválido."})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminMiddleware guards ingest, delete and sweep with the administrator
// secret. Unlike authMiddleware it never disables itself: an empty secret
// closes the routes with 503.
func adminMiddleware(password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if password == "" {
			writeError(w, r, fmt.Errorf("server: %w: ADMIN_PASSWORD is not set", bookerr.ErrConfiguration))
			return
		}
		if !tokensEqual(bearerToken(r), password) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bookqa-admin"`)
			writeError(w, r, fmt.Errorf("server: %w: admin secret mismatch on %s", bookerr.ErrUnauthorized, r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokensEqual compares two secrets in constant time.
func tokensEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
