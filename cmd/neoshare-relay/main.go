package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lilsandesh/NeoShare/internal/cache"
	"github.com/lilsandesh/NeoShare/internal/config"
	"github.com/lilsandesh/NeoShare/internal/httpserver"
	"github.com/lilsandesh/NeoShare/internal/identity"
	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/presence"
	"github.com/lilsandesh/NeoShare/internal/registry"
	"github.com/lilsandesh/NeoShare/internal/room"
	"github.com/lilsandesh/NeoShare/internal/signaling"
	"github.com/lilsandesh/NeoShare/internal/store"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting neoshare-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"store", cfg.StoreBackend,
		"cache", cfg.CacheBackend,
		"identity_source", cfg.IdentitySource,
		"max_messages_per_minute", cfg.MaxMessagesPerMinute,
	)
	logStartupSecurityWarnings(logger, cfg)

	st, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open membership store", "err", err)
		os.Exit(2)
	}
	defer st.Close()

	var roomCache cache.Cache = cache.Noop{}
	m := metrics.New()
	if cfg.CacheBackend == config.CacheRedis {
		roomCache = cache.Init(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger, m)
		defer cache.Close()
	}

	dispatch := store.NewDispatcher(cfg.StoreWorkers, cfg.StoreQueue)
	defer dispatch.Close()

	reg := registry.New(logger, m)
	tracker := presence.NewTracker(st, dispatch, reg, logger, m)
	router, err := signaling.NewRouter(reg, logger, m)
	if err != nil {
		logger.Error("failed to build signaling router", "err", err)
		os.Exit(2)
	}
	coord := room.NewCoordinator(room.Options{
		Store:    st,
		Dispatch: dispatch,
		Cache:    roomCache,
		Presence: tracker,
		Registry: reg,
		Log:      logger,
		Metrics:  m,
		CodeLen:  cfg.RoomCodeLength,
	})

	provider := identityProvider(cfg)

	srv := httpserver.New(cfg, logger, m, buildInfo())
	srv.RegisterRoomRoutes(coord, provider)

	feeds := signaling.NewServer(signaling.ServerOptions{
		Registry:        reg,
		Presence:        tracker,
		Router:          router,
		Store:           st,
		Dispatch:        dispatch,
		Identity:        provider,
		Log:             logger,
		Metrics:         m,
		CheckOrigin:     httpserver.CheckOrigin(cfg),
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		MsgsPerMinute:   cfg.MaxMessagesPerMinute,
	})
	feeds.RegisterRoutes(srv.Mux())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return store.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return store.NewMemory(), nil
	}
}

func identityProvider(cfg config.Config) identity.Provider {
	if cfg.IdentitySource == config.IdentityQuery {
		return identity.QueryProvider{}
	}
	return identity.HeaderProvider{}
}

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if cfg.IdentitySource == config.IdentityQuery {
		logger.Warn("identity source is query parameters; any caller can claim any user id (dev only)")
	}
	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("no allowed origins configured; only same-host browser clients will be admitted")
	}
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("membership store is in-memory; rooms and presence do not survive a restart")
	}
}

func buildInfo() httpserver.BuildInfo {
	commit, ts := buildCommit, buildTime
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if ts == "" {
					ts = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: ts}
}
