package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/directory"
	"github.com/Tyrowin/chatterbox/internal/presence"
	"github.com/Tyrowin/chatterbox/internal/role"
	"github.com/Tyrowin/chatterbox/internal/store"
)

// Store is the persistence surface used by the HTTP and socket layers.
type Store interface {
	MessageStore
	FindUser(ctx context.Context, id string) (*chat.User, error)
	ListUsers(ctx context.Context) ([]chat.User, error)
	SetUserRole(ctx context.Context, id string, rl role.Role) (*chat.User, error)
	MessagesBefore(ctx context.Context, roomID string, cursor time.Time, limit int) ([]chat.Message, error)
	MarkRead(ctx context.Context, roomID, messageID string) (*chat.Message, error)
	CreateRoom(ctx context.Context, room *chat.Room) error
	UpdateRoom(ctx context.Context, id string, upd store.RoomUpdate) (*chat.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	AddMembers(ctx context.Context, roomID string, userIDs []string) (*chat.Room, error)
	RemoveMembers(ctx context.Context, roomID string, userIDs []string) (*chat.Room, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Store         Store
	Directory     directory.Directory
	Authenticator *auth.Authenticator
	Accounts      *auth.Accounts
	Logger        *slog.Logger
	// Now is handed to the hub; nil means time.Now.
	Now func() time.Time
}

// Server ties the hub, the REST surface and the HTTP listener together.
type Server struct {
	cfg        Config
	store      Store
	dir        directory.Directory
	auth       *auth.Authenticator
	accounts   *auth.Accounts
	hub        *Hub
	origins    *originPolicy
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	httpServer *http.Server
}

// New builds a Server. cfg is sanitised; call cfg.Validate first to
// reject unusable settings.
func New(cfg *Config, deps Deps) *Server {
	c := sanitizeConfig(*cfg)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      c,
		store:    deps.Store,
		dir:      deps.Directory,
		auth:     deps.Authenticator,
		accounts: deps.Accounts,
		origins:  newOriginPolicy(c.AllowedOrigins, logger),
		logger:   logger,
	}
	s.hub = NewHub(HubConfig{
		Directory:     deps.Directory,
		Messages:      deps.Store,
		Presence:      presence.New(),
		Logger:        logger,
		BackfillLimit: c.BackfillLimit,
		Now:           deps.Now,
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.httpServer = CreateServer(c.Port, s.Handler())
	return s
}

// Hub returns the session manager.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HTTPServer returns the underlying listener configuration.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub runs the hub in its own goroutine. Call it before serving.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage websocket connections")
}

// Start runs the hub and listens until the server is shut down. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.StartHub()
	s.logger.Info("server listening", "addr", s.httpServer.Addr, "room_mode", s.cfg.RoomMode)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every socket and waits
// for the hub to drain.
func (s *Server) Shutdown(timeout time.Duration) error {
	httpErr := ShutdownServer(s.httpServer, timeout, s.logger)
	hubErr := s.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
		return err
	}

	logger.Info("http server shutdown completed")
	return nil
}
