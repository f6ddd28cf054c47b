package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rudhanster/travel-request-system/internal/app"
	"github.com/rudhanster/travel-request-system/internal/graphmail"
	"github.com/rudhanster/travel-request-system/internal/msidentity"
	"github.com/rudhanster/travel-request-system/internal/platform/config"
	"github.com/rudhanster/travel-request-system/internal/platform/logging"
	"github.com/rudhanster/travel-request-system/internal/server"
	"github.com/rudhanster/travel-request-system/internal/sharepoint"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func runGracefulShutdown(srv *server.Server) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	identity := msidentity.NewManager(msidentity.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TenantID:     cfg.TenantID,
		RedirectURI:  cfg.RedirectURI,
		AuthorityURL: cfg.AuthorityURL,
		GraphURL:     cfg.GraphURL,
		Admins:       cfg.Admins(),
	}, clock)

	store := sharepoint.NewClient(cfg.SharePointSiteURL, cfg.SharePointList, msidentity.ScopesStore, clock)
	mail := graphmail.NewClient(cfg.GraphURL, msidentity.ScopesGraph)

	appSvc := app.NewService(store, mail, clock, cfg.TransportEmail, cfg.TransportSubjectPrefix)

	healthChecks := []server.HealthCheck{
		{Name: "record_store", Check: store.Ping},
	}

	srv := server.NewServer(cfg, identity, appSvc, healthChecks)

	done := runGracefulShutdown(srv)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
