package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Tyrowin/chatterbox/internal/access"
	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to h. The first middleware in the list is the
// outermost one and sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// statusRecorder captures the response status. It keeps Hijack working so
// WebSocket upgrades pass through the logger.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil && r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestLogger logs one line per request once it completes.
func requestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// recoverer turns a handler panic into a 500 response.
func recoverer(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("panic in http handler", "path", r.URL.Path, "panic", v)
					writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const identityKey = contextKey("identity")

func withIdentity(ctx context.Context, id chat.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity attached by the auth middleware.
func IdentityFrom(ctx context.Context) (chat.Identity, bool) {
	id, ok := ctx.Value(identityKey).(chat.Identity)
	return id, ok
}

// requireAuth authenticates the bearer credential and attaches the
// resolved identity to the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			s.writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// requireRole rejects identities below min. It must sit inside requireAuth.
func requireRole(min role.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFrom(r.Context())
		if err := access.RequireRole(id, min); err != nil {
			writeError(w, http.StatusForbidden, "forbidden", "Insufficient privileges")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeAuthError answers a failed authentication. Store failures are a 500,
// everything else is a 401.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
	case errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Token has expired")
	case errors.Is(err, auth.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Session expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnknownIdentity):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
	default:
		s.logger.Error("authentication failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
