package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sloanware/latchline-core/internal/access"
)

// contextKey keeps request-scoped values from colliding with other
// packages' keys.
type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// withRequestID honours a client-supplied X-Request-ID and mints a
// UUID otherwise. The ID rides both the response header and the
// request context so client and server logs line up.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRequestLog emits one line per request. Token values ride in
// request bodies, never in paths, so paths are safe to log; the
// status poll is the exception and is redacted to its prefix.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("http request",
			"method", r.Method,
			"path", redactTokenPath(r.URL.Path),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// withRecovery converts handler panics into logged 500 responses so
// one bad request cannot take the listener down.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", redactTokenPath(r.URL.Path),
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS answers preflights and stamps allow headers for origins the
// config admits.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", headerList(s.cfg.CORS.AllowedMethods, "GET, POST, DELETE, OPTIONS"))
			h.Set("Access-Control-Allow-Headers", headerList(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			h.Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxRequestBody caps request bodies at 64 KB. The largest legitimate
// payload is an enrollment with a permission list; everything else is
// a token or two.
const maxRequestBody = 64 << 10

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards the admin surface. The Authorization header
// carries either the raw site secret or a session token from
// /admin/login; both arrive as a Bearer value.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "Authorization: Bearer required")
			return
		}
		if err := s.admin.Authenticate(bearer); err != nil {
			s.logger.Warn("admin auth rejected",
				"request_id", r.Context().Value(ctxKeyRequestID))
			writeUnauthorized(w, "invalid admin credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// originAllowed treats an empty allow list as open. Production configs
// are expected to pin origins.
func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func headerList(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

// redactTokenPath truncates the token segment of status-poll paths.
// GET /api/v1/tokens/{token}/status is the only route with a secret
// in the path.
func redactTokenPath(path string) string {
	const prefix = "/api/v1/tokens/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, "/status") {
		return path
	}
	token := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/status")
	return prefix + access.Prefix(token) + ".../status"
}
