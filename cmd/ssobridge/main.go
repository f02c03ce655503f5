package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/avoinelab/ssobridge/internal/authflow"
	"github.com/avoinelab/ssobridge/internal/cache"
	cachemem "github.com/avoinelab/ssobridge/internal/cache/memory"
	cacheredis "github.com/avoinelab/ssobridge/internal/cache/redis"
	"github.com/avoinelab/ssobridge/internal/config"
	"github.com/avoinelab/ssobridge/internal/httpx"
	"github.com/avoinelab/ssobridge/internal/identity"
	"github.com/avoinelab/ssobridge/internal/liveness"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/avoinelab/ssobridge/internal/provision"
	"github.com/avoinelab/ssobridge/internal/rpc"
	"github.com/avoinelab/ssobridge/internal/session"
	"github.com/avoinelab/ssobridge/internal/store"
	storemem "github.com/avoinelab/ssobridge/internal/store/memory"
	storepg "github.com/avoinelab/ssobridge/internal/store/pg"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "ssobridge",
		Short:   "SSO federation bridge between a CMS and the Avoine SSO service",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "ssobridge",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionTTL := cfg.SessionTTL()

	var cc cache.Cache
	switch cfg.Cache.Kind {
	case "redis":
		cc = cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	default:
		cc = cachemem.New(sessionTTL)
	}

	var users store.UserStore
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storepg.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		users = pg
	default:
		users = storemem.New()
	}

	flowHooks := &authflow.Hooks{}
	urls := authflow.NewURLs(cfg, flowHooks)

	rpcClient := rpc.New(rpc.Deps{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Endpoint:   urls.APIURL,
		Key:        urls.Key,
	})

	resolver := identity.New(identity.Deps{RPC: rpcClient, Hooks: &identity.Hooks{}})

	checker := liveness.New(liveness.Deps{
		Resolver: resolver,
		Store:    users,
		Cache:    cc,
		Hooks:    &liveness.Hooks{},
		TTL:      sessionTTL,
	})

	siteHost := cfg.Server.SiteURL
	if u, err := url.Parse(cfg.Server.SiteURL); err == nil && u.Host != "" {
		siteHost = u.Host
	}
	provisioner := provision.New(provision.Deps{
		Store:    users,
		Resolver: resolver,
		Hooks:    &provision.Hooks{},
		SiteHost: siteHost,
	})

	sessions := session.New(session.Deps{
		Secret:     []byte(cfg.Session.Secret),
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.Secure,
		TTL:        sessionTTL,
		Cache:      cc,
	})

	controller := authflow.New(authflow.Deps{
		URLs:        urls,
		Resolver:    resolver,
		Liveness:    checker,
		Provisioner: provisioner,
		Store:       users,
		Sessions:    sessions,
		Guard:       session.NewPasswordGuard(users, nil),
		Hooks:       flowHooks,
	})

	metricsHandler, err := httpx.RegisterMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(httpx.WithRequestID())
	r.Use(httpx.WithLogging())
	r.Use(httpx.WithMetrics)
	r.Use(controller.Capture())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	controller.Mount(r)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ssobridge listening",
			logger.Component("main"),
			logger.Op("serve"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", logger.Component("main"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
