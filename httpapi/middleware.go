package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/COMRADE-APP/authcore"
)

type contextKey string

const accessKey contextKey = "httpapi.access"

// clientContext threads the caller's IP, user agent, and declared
// device ID into the request context for the engine's device and
// session bookkeeping.
func (s *Server) clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ip := clientIP(r); ip != "" {
			ctx = authcore.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = authcore.WithUserAgent(ctx, ua)
		}
		if did := r.Header.Get("X-Device-ID"); did != "" {
			ctx = authcore.WithClientDeviceID(ctx, did)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAccess validates the bearer token and stashes the result.
func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}

		access, err := s.engine.ValidateAccess(r.Context(), token)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), accessKey, access)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessFrom(ctx context.Context) *authcore.AccessResult {
	access, _ := ctx.Value(accessKey).(*authcore.AccessResult)
	return access
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func clientIP(r *http.Request) string {
	// Trust the left-most forwarded address when present; the proxy
	// in front is expected to sanitize the header.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
