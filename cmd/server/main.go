package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"kestrel/internal/backend"
	"kestrel/internal/conf"
	"kestrel/internal/logger"
	"kestrel/internal/server"
	"kestrel/internal/session"
	"kestrel/internal/tlsstore"
)

func main() {
	configPath := flag.String("config", "/etc/kestrel/kestrel.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := conf.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", *configPath, err)
	}

	if err := logger.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsConfig, err := tlsstore.Load(ctx, cfg.TLS)
	if err != nil {
		logger.Error("failed to load tls material", "error", err)
		log.Fatal(err)
	}

	store, closeStore, err := buildStore(cfg.SessionStore)
	if err != nil {
		logger.Error("failed to build session store", "error", err)
		log.Fatal(err)
	}
	defer closeStore()

	srv := server.New(server.Options{
		Addr:           cfg.Addr(),
		Welcome:        cfg.Welcome,
		TLSConfig:      tlsConfig,
		ListenerTLS:    cfg.TLS.Implicit,
		IdleTimeout:    time.Duration(cfg.IdleTimeoutMS) * time.Millisecond,
		MaxConnections: cfg.MaxConnections,
		IDLength:       cfg.IDLength,
		Store:          store,
	})

	if cfg.Backend.Enabled {
		backend.New(cfg.Backend).Register(srv.Bus())
		logger.Info("bundled backend registered", "users", len(cfg.Backend.Users))
	} else {
		logger.Warn("no backend registered; LOGIN will always fail")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.Handler(),
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		log.Fatal(err)
	}
	logger.Info("shutdown complete")
}

func buildStore(cfg conf.SessionStoreConfig) (session.Store, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := session.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}
