//	@title			FastDFS Gateway API
//	@version		1.0
//	@description	Upload files to a FastDFS cluster and download them back by URL.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fdfsweb/gateway/internal/catalog"
	"github.com/fdfsweb/gateway/internal/config"
	"github.com/fdfsweb/gateway/internal/db"
	"github.com/fdfsweb/gateway/internal/fdfs"
	"github.com/fdfsweb/gateway/internal/file"
	"github.com/fdfsweb/gateway/internal/server"
	"github.com/fdfsweb/gateway/internal/storage"

	_ "github.com/fdfsweb/gateway/docs/swagger"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx := context.Background()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = storage.NewCachedStorage(store, rdb, cfg.MetadataCacheTTL)
		log.Printf("metadata cache enabled (ttl=%s)", cfg.MetadataCacheTTL)
	}
	defer store.Close()

	// Wire dependencies: storage → service → handler
	var cat file.Catalog
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("database migration failed: %v", err)
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer pool.Close()
		cat = catalog.NewRepository(pool)
	}

	svc := file.NewService(store, cfg.WebServerURL, cat)
	fileHandler := file.NewHandler(svc, cfg.DownloadFilename, cfg.MaxUploadBytes)

	router := server.NewRouter(fileHandler, server.Options{
		JWTSecret:     cfg.JWTSecret,
		UploadQPS:     cfg.UploadQPS,
		EnableCatalog: cat != nil,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("server listening on :%s (env=%s, storage=%s)", cfg.Port, cfg.AppEnv, cfg.StorageDriver)
		log.Printf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
		return
	}

	log.Println("server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverFastDFS:
		client, err := fdfs.NewClient(fdfs.Config{
			TrackerServers:    cfg.TrackerServers,
			ConnectTimeout:    cfg.ConnectTimeout,
			SoTimeout:         cfg.SoTimeout,
			MaxTotal:          cfg.PoolMaxTotal,
			MaxIdle:           cfg.PoolMaxIdle,
			IdleTimeout:       cfg.PoolIdleTimeout,
			TrackerRetryAfter: cfg.TrackerRetryAfter,
		})
		if err != nil {
			return nil, fmt.Errorf("create fastdfs client: %w", err)
		}
		log.Printf("fastdfs trackers: %v, web server: %s", cfg.TrackerServers, cfg.WebServerURL)
		return storage.NewFastDFSStorage(client, cfg.Group), nil
	case config.DriverMinio:
		return storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
		})
	case config.DriverMemory:
		if cfg.IsProduction() {
			return nil, errors.New("memory storage is not allowed in production")
		}
		return storage.NewMemoryStorage(cfg.Group), nil
	}
	return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
}
