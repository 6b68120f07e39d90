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

	"mindweave/api/internal/app"
	"mindweave/api/internal/cache"
	"mindweave/api/internal/config"
	"mindweave/api/internal/engine"
	"mindweave/api/internal/history"
	"mindweave/api/internal/llm"
	"mindweave/api/internal/media"
	"mindweave/api/internal/search"
	"mindweave/api/internal/store"
	"mindweave/api/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	dataStore, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer dataStore.Close()

	if err := store.Migrate(ctx, dataStore.DB(), cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	historyService := history.New(cfg.ReposDir)

	pgfts := search.NewPgFTS(dataStore.DB())
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	generator, err := llm.New(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAITimeout)
	if err != nil {
		log.Fatalf("llm client failed: %v", err)
	}

	roomHub := ws.NewHub("room")
	graphHub := ws.NewHub("graph")

	engineOpts := []engine.Option{
		engine.WithHistorian(historyService),
		engine.WithIndexer(searchService),
	}

	var snapshotCache *cache.SnapshotCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		snapshotCache, err = cache.NewSnapshotCache(cfg.RedisURL, 24*time.Hour)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer snapshotCache.Close()
		engineOpts = append(engineOpts, engine.WithCache(snapshotCache))
		log.Printf("Using Redis for latest-snapshot caching")
	}

	if cfg.CoverImages && strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaStore, err := media.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPublicURL, cfg.MinioSecure)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		engineOpts = append(engineOpts, engine.WithCoverImages(mediaStore))
		log.Printf("Cover image generation enabled")
	}

	eng := engine.New(dataStore, generator, graphHub, cfg.SessionIdleTTL, engineOpts...)

	// Pass a literal nil when Redis is off so the service sees a nil
	// interface, not a typed nil pointer.
	var service *app.Service
	if snapshotCache != nil {
		service = app.NewService(dataStore, eng, searchService, historyService, snapshotCache)
	} else {
		service = app.NewService(dataStore, eng, searchService, historyService, nil)
	}
	httpServer := app.NewHTTPServer(service, roomHub, graphHub, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No read/write timeouts: websocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Mindweave API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
