package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/api"
	"github.com/headfull/chrome-api/internal/browser"
	"github.com/headfull/chrome-api/internal/config"
	"github.com/headfull/chrome-api/internal/logging"
	"github.com/headfull/chrome-api/internal/pool"
	"github.com/headfull/chrome-api/internal/proxy"
	"github.com/headfull/chrome-api/internal/ratelimit"
	"github.com/headfull/chrome-api/internal/scheduler"
	"github.com/headfull/chrome-api/internal/session"
	"github.com/headfull/chrome-api/internal/store"
	"github.com/headfull/chrome-api/pkg/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file found, using system environment variables")
	}

	cfg := config.Load()
	log := logging.Setup(cfg)

	log.WithFields(logrus.Fields{
		"max_concurrent": cfg.MaxConcurrentSessions,
		"display_base":   cfg.DisplayBase,
		"port_base":      cfg.DevToolsPortBase,
	}).Info("starting headfull chrome api")

	// Resource pools: one identifier space per scarce resource, sized to the
	// concurrency ceiling.
	displays := pool.New("display", cfg.DisplayBase, cfg.MaxConcurrentSessions)
	ports := pool.New("devtools_port", cfg.DevToolsPortBase, cfg.MaxConcurrentSessions)
	leaser := pool.NewLeaser(displays, ports)

	launcher := browser.NewLauncher(cfg)
	controller := browser.NewController(cfg, launcher)

	jobs := store.NewJobStore()
	sessions := store.NewSessionStore()

	sched := scheduler.New(cfg, leaser, jobs, sessions,
		func(ctx context.Context, lease *pool.Lease, sc models.SessionConfig) (scheduler.BrowserHandle, error) {
			return controller.Start(ctx, lease, sc)
		})
	sched.Start()

	sessionMgr := session.NewManager(cfg, sched, jobs, sessions)
	proxyServer := proxy.NewServer(sessionMgr, launcher)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)

	handler := api.NewHandler(sessionMgr, sched, displays, ports)
	router := handler.SetupRoutes(proxyServer, rateLimiter, cfg.RateLimitPerHour)

	srv := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.APIAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	sched.Stop(ctx)
	launcher.StopAll()

	log.Info("shutdown complete")
}
