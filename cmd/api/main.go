package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"qualidoc/api/internal/app"
	"qualidoc/api/internal/archive"
	"qualidoc/api/internal/authpw"
	"qualidoc/api/internal/config"
	"qualidoc/api/internal/email"
	"qualidoc/api/internal/export"
	"qualidoc/api/internal/lifecycle"
	"qualidoc/api/internal/notify"
	"qualidoc/api/internal/revision"
	"qualidoc/api/internal/session"
	"qualidoc/api/internal/storage"
	"qualidoc/api/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// File storage: MinIO when an endpoint is configured, local disk
	// with a git-backed obsolete area otherwise.
	var files storage.FileStore
	var journal *archive.Journal
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO object storage at %s", cfg.MinioEndpoint)
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			log.Fatalf("minio bucket setup failed: %v", err)
		}
		files = minioStore
	} else {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			log.Fatalf("failed to create upload dir: %v", err)
		}
		j, err := archive.Open(cfg.ObsoleteDir)
		if err != nil {
			log.Fatalf("failed to open archive journal: %v", err)
		}
		journal = j
		relocator := storage.NewRelocator(storage.OSFilesystem{}, cfg.ObsoleteDir)
		files = storage.NewLocalStore(cfg.UploadDir, relocator, journal)
	}

	revisions := revision.NewManager(dataStore, files)
	authService := authpw.NewService(dataStore)
	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	exporter := export.NewService(dataStore, lifecycle.SystemClock{})

	// Refresh token storage: Redis when reachable, Postgres otherwise.
	var sessions app.RefreshSessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, storing refresh tokens in Postgres: %v", err)
		} else {
			log.Printf("Using Redis for refresh token storage")
			defer redisStore.Close()
			sessions = redisStore
		}
	}

	service := app.New(cfg, dataStore, sessions, files, revisions, authService, emailService, exporter, journal)

	// Expiry sweep in the background until shutdown.
	notifyCtx, stopNotify := context.WithCancel(ctx)
	defer stopNotify()
	notifier := notify.New(dataStore, emailService, lifecycle.SystemClock{}, cfg.NotifyInterval)
	go notifier.Run(notifyCtx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("QualiDoc API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopNotify()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
