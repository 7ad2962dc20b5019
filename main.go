package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"logoqr/pkg/config"
	"logoqr/pkg/logger"
	"logoqr/pkg/profiles"
	"logoqr/pkg/storage"
)

var (
	log        = zap.NewNop()
	appCfg     *config.Config
	store      storage.Store
	profileSvc *profiles.Service
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	log = logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	// `logoqr migrate` runs AutoMigrate and seeding then exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.DB.AutoMigrate = true
		if err := initDB(cfg); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migration and seeding completed")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initDB(cfg); err != nil {
		log.Fatal("failed to initialise database", zap.Error(err))
	}
	if err := initApp(ctx, cfg); err != nil {
		log.Fatal("failed to initialise application", zap.Error(err))
	}
	if local, ok := store.(*storage.LocalStore); ok && cfg.WatchUploads {
		go watchUploads(ctx, local)
	}

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Type))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}

// initApp wires the file store, the profile service and the session settings.
// The database must already be open.
func initApp(ctx context.Context, cfg *config.Config) error {
	appCfg = cfg
	jwtSecret = []byte(cfg.Auth.JWTSecret)
	sessionTTL = cfg.Auth.SessionTTL
	cookieSecure = cfg.Auth.CookieSecure

	var err error
	store, err = storage.New(ctx, storage.Config{
		Type:     cfg.Storage.Type,
		BasePath: cfg.Storage.BasePath,
		S3: storage.S3Options{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	profileSvc = profiles.NewService(profiles.NewRepository(db), store, log, profiles.Options{
		MaxBytes:       cfg.Upload.MaxBytes,
		RequireContact: cfg.Upload.RequireContact,
	})
	return nil
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	setupRoutes(r)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", c.ClientIP()))
	}
}

// watchUploads warns when a file still referenced by a profile disappears from
// the upload directory without going through Delete.
func watchUploads(ctx context.Context, local *storage.LocalStore) {
	err := local.Watch(ctx, func(name string) {
		if profileSvc.RecentlyDeleted(name) {
			return
		}
		p, err := profileSvc.ProfileForFile(ctx, name)
		if err != nil {
			log.Error("failed to look up profile for removed file", zap.String("file", name), zap.Error(err))
			return
		}
		if p != nil {
			log.Warn("stored file removed outside the service",
				zap.String("file", name), zap.Uint("profile_id", p.ID))
		}
	}, func(err error) {
		log.Warn("upload watcher error", zap.Error(err))
	})
	if err != nil {
		log.Error("upload watcher stopped", zap.Error(err))
	}
}
