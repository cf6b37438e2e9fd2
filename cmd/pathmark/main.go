// Command pathmark is the PathMark API server: it loads configuration,
// wires every subsystem together, and serves the HTTP API of orig spec §6
// until an interrupt or terminate signal requests a graceful shutdown.
package main

import (
	"context"
	"log"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/audit"
	"github.com/pathmark/pathmark/internal/auth"
	"github.com/pathmark/pathmark/internal/authz"
	"github.com/pathmark/pathmark/internal/config"
	"github.com/pathmark/pathmark/internal/cryptoutil"
	"github.com/pathmark/pathmark/internal/handler"
	"github.com/pathmark/pathmark/internal/location"
	"github.com/pathmark/pathmark/internal/mapmatch"
	"github.com/pathmark/pathmark/internal/policy"
	"github.com/pathmark/pathmark/internal/scheduler"
	"github.com/pathmark/pathmark/internal/store"
	"github.com/pathmark/pathmark/internal/trip"
	"github.com/pathmark/pathmark/internal/webhook"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	pgStore, err := store.NewPgStore(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, sugar)
	if err != nil {
		sugar.Fatalf("connect postgres: %v", err)
	}
	defer pgStore.Close()

	if err := seedSettingDefinitions(ctx, pgStore, sugar); err != nil {
		sugar.Fatalf("seed setting definitions: %v", err)
	}

	signer, err := buildSigner(cfg)
	if err != nil {
		sugar.Fatalf("build JWT signer: %v", err)
	}

	authn := auth.New(pgStore, pgStore, signer, auth.Config{
		AccessTTL:          time.Duration(cfg.JWT.AccessTokenExpirySecs) * time.Second,
		RefreshTTL:         time.Duration(cfg.JWT.RefreshTokenExpirySecs) * time.Second,
		RateLimitPerMinute: cfg.Security.RateLimitPerMinute,
	}, sugar)

	azEngine := authz.New(pgStore, pgStore, sugar)
	matcher := mapmatch.NewHTTPClient(cfg.MapMatch.URL, cfg.MapMatch.APIKey, cfg.MapMatch.Enabled)
	ingester := location.New(pgStore, pgStore, sugar)
	tripManager := trip.New(pgStore, pgStore, matcher, sugar)
	dispatcher := webhook.New(pgStore, sugar)

	artifactDir := cfg.Storage.AuditExportDir
	if artifactDir == "" {
		artifactDir = "./data/audit-exports"
	}
	artifacts, err := audit.NewFileArtifactStore(artifactDir, "/api/admin/v1/audit-exports")
	if err != nil {
		sugar.Fatalf("init audit artifact store: %v", err)
	}
	exporter := audit.NewExporter(pgStore, artifacts, sugar)

	h := &handler.Handlers{
		Auth:     handler.NewAuthHandlers(authn, sugar),
		Location: handler.NewLocationHandlers(ingester, sugar),
		Trip:     handler.NewTripHandlers(tripManager, sugar),
		Group:    handler.NewGroupHandlers(pgStore, azEngine, sugar),
		Settings: handler.NewSettingsHandlers(pgStore, pgStore, sugar),
		Device:   handler.NewDeviceHandlers(pgStore, pgStore, ingester, sugar),
		Admin:    handler.NewAdminHandlers(pgStore, pgStore, pgStore, exporter, sugar),
	}
	mux := handler.NewMux(h, authn, sugar)

	exportFS := http.StripPrefix("/api/admin/v1/audit-exports/", http.FileServer(http.Dir(artifactDir)))
	topMux := http.NewServeMux()
	topMux.Handle("/api/admin/v1/audit-exports/", exportFS)
	topMux.Handle("/", mux)

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        topMux,
		ReadTimeout:    time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	sched := scheduler.New(scheduler.Config{
		RetentionDays: cfg.Limits.LocationRetentionDays,
	}, ingester, dispatcher, authn, exporter, sugar)
	sched.Start()

	go func() {
		sugar.Infow("pathmark server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("server shutdown did not complete cleanly", "error", err)
	}
}

// buildSigner selects RS256 or HS256 per Config.UsesRS256 (orig spec §9
// open question: the two conflicting story files never agreed on one
// algorithm, so both are supported and key inspection picks one).
func buildSigner(cfg *config.Config) (*cryptoutil.Signer, error) {
	if cfg.UsesRS256() {
		return cryptoutil.NewRS256Signer([]byte(cfg.JWT.PrivateKey), []byte(cfg.JWT.PublicKey))
	}
	return cryptoutil.NewHS256Signer(cfg.JWT.SecretKey), nil
}

// seedSettingDefinitions loads the embedded SettingDefinition catalog and
// upserts every entry so policy.Resolve always has a default for every
// known key, even on a freshly migrated database.
func seedSettingDefinitions(ctx context.Context, s store.DeviceStore, logger *zap.SugaredLogger) error {
	defs, err := policy.LoadSeedDefinitions()
	if err != nil {
		return err
	}
	for _, d := range defs {
		if err := s.UpsertSettingDefinition(ctx, d); err != nil {
			return err
		}
	}
	logger.Infow("seeded setting definitions", "count", len(defs))
	return nil
}
