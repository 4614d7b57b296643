package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Tyrowin/chatterbox/internal/auth"
)

// handleWebSocket authenticates the handshake and upgrades the
// connection. Unauthenticated requests get a 401 and are never upgraded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		s.logger.Info("websocket handshake rejected", "remote_addr", r.RemoteAddr, "reason", err)
		s.writeAuthError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, identity, r.RemoteAddr, ClientLimits{
		MaxMessageSize: s.cfg.MaxMessageSize,
		RateLimit:      s.cfg.RateLimit,
	})
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// handleRoot is a liveness probe.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Connections int    `json:"connections"`
}

// handleHealth reports database reachability and live socket count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Database:    "ok",
		Connections: s.hub.Presence().ConnectionCount(),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("database health check failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
