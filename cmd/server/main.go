package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/directory"
	"github.com/Tyrowin/chatterbox/internal/server"
	"github.com/Tyrowin/chatterbox/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := server.LoadEnvFile(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}
	cfg := server.NewConfigFromEnv()

	flagSet := pflag.NewFlagSet("chatterbox", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "listen address")
	flagSet.StringVar(&cfg.Database.Driver, "db-driver", cfg.Database.Driver, "database driver (sqlite or postgres)")
	flagSet.StringVar(&cfg.Database.DSN, "db-dsn", cfg.Database.DSN, "database DSN or SQLite file path")
	flagSet.StringVar(&cfg.RoomMode, "room-mode", cfg.RoomMode, "room directory mode (static or dynamic)")
	flagSet.IntVar(&cfg.BackfillLimit, "backfill", cfg.BackfillLimit, "messages sent to a client on join")
	flagSet.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "origins allowed to open a websocket")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text or json)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		return 1
	}

	srv, err := build(cfg, st, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		_ = st.Close()
		return 1
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			_ = st.Close()
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chatterbox": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return errors.Join(srv.Shutdown(cfg.ShutdownTimeout), st.Close())
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	return exitCode
}

// build wires the auth services, the room directory and the server.
func build(cfg *server.Config, st *store.Store, logger *slog.Logger) (*server.Server, error) {
	ctx := context.Background()

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.JWTIssuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}
	accounts := auth.NewAccounts(st, auth.NewPasswordHasher(), tokens)

	if cfg.Auth.SuperEmail != "" && cfg.Auth.SuperPassword != "" {
		u, created, err := accounts.SeedSuper(ctx, cfg.Auth.SuperEmail, cfg.Auth.SuperPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to seed super user: %w", err)
		}
		logger.Info("super user ready", "user_id", u.ID, "created", created)
	}

	var dir directory.Directory
	switch cfg.RoomMode {
	case server.RoomModeDynamic:
		dir = directory.NewDynamic(st)
	default:
		if err := directory.Bootstrap(ctx, st, logger); err != nil {
			return nil, err
		}
		dir = directory.NewStatic(st)
	}

	return server.New(cfg, server.Deps{
		Store:         st,
		Directory:     dir,
		Authenticator: auth.NewAuthenticator(tokens, st),
		Accounts:      accounts,
		Logger:        logger,
	}), nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
