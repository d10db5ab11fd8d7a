// Command smartgitd wires configuration, the reference authenticator, the
// webhook relay, tracing, and the core smart-HTTP Git server together into a
// runnable daemon. It is an example deployment, not part of the core library
// in internal/gitproto.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/brindlecode/smartgit/internal/authstore"
	"github.com/brindlecode/smartgit/internal/config"
	"github.com/brindlecode/smartgit/internal/gitproto"
	"github.com/brindlecode/smartgit/internal/webhookrelay"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("smartgitd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	traceShutdown, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(shutdownCtx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	opts := gitproto.Options{
		AutoCreate:         cfg.Repo.AutoCreate,
		Logger:             slog.Default(),
		TrustedProxies:     cfg.Server.TrustedProxies,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}

	var authCloser func() error
	if cfg.Auth.Enabled {
		authenticator, closer, err := buildAuthenticator(ctx, cfg.Auth)
		if err != nil {
			slog.Error("configure authenticator", "error", err)
			os.Exit(1)
		}
		opts.Authenticate = authenticator.Func()
		authCloser = closer
	}

	if err := os.MkdirAll(cfg.Repo.Root, 0o755); err != nil {
		slog.Error("create repo root", "error", err)
		os.Exit(1)
	}

	server := gitproto.New(cfg.Repo.Root, opts)

	relay := webhookrelay.New(cfg.Webhook.Subscriptions, cfg.Webhook.Workers, slog.Default())
	relay.Attach(server)
	if err := relay.Start(ctx); err != nil {
		slog.Error("start webhook relay", "error", err)
		os.Exit(1)
	}

	server.On("error", func(v any) {
		if err, ok := v.(error); ok {
			slog.Error("server error", "error", err)
		}
	})

	if err := server.Listen(cfg.Server.Port); err != nil {
		slog.Error("listen", "error", err)
		os.Exit(1)
	}
	slog.Info("smartgitd listening", "addr", server.Address())

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)
	<-done

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Close(shutdownCtx); err != nil {
		slog.Error("close server", "error", err)
	}
	if err := relay.Stop(shutdownCtx); err != nil {
		slog.Error("stop webhook relay", "error", err)
	}
	if authCloser != nil {
		if err := authCloser(); err != nil {
			slog.Error("close auth store", "error", err)
		}
	}
}

func buildAuthenticator(ctx context.Context, cfg config.AuthConfig) (*authstore.Authenticator, func() error, error) {
	store, err := authstore.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open auth store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrate auth store: %w", err)
	}

	duration, err := time.ParseDuration(cfg.TokenDuration)
	if err != nil {
		duration = 24 * time.Hour
	}
	svc := authstore.NewService(cfg.JWTSecret, duration)
	return authstore.NewAuthenticatorWithOptions(svc, store, cfg.EnablePasswordAuth), store.Close, nil
}
