package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"folio/api/internal/app"
	"folio/api/internal/artifact"
	"folio/api/internal/config"
	"folio/api/internal/flock"
	"folio/api/internal/person"
	"folio/api/internal/render"
	"folio/api/internal/search"
	"folio/api/internal/storage"
	"folio/api/internal/typeset"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	projectsDir := filepath.Join(cfg.DataDir, "projects")
	tempRoot := filepath.Join(cfg.DataDir, "temp")
	for _, dir := range []string{projectsDir, tempRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	locks := flock.NewTable(cfg.LockPollInterval)

	persons := person.NewStore(cfg.DataDir, locks, cfg.LockTimeout)
	if err := persons.Load(); err != nil {
		log.Fatalf("person store load failed: %v", err)
	}

	store := storage.New(projectsDir, locks, cfg.LockTimeout)
	if err := store.LoadDirectoryIndex(); err != nil {
		log.Fatalf("project index load failed: %v", err)
	}

	var mirror render.StatusMirror
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisMirror, err := render.NewRedisMirror(cfg.RedisURL, cfg.RedisStatusTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisMirror.Close()
		mirror = redisMirror
		log.Printf("Using Redis for render status mirroring")
	}

	var uploader render.ArtifactUploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		up, err := artifact.NewUploader(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		uploader = up
		log.Printf("Uploading finished artifacts to bucket %s", cfg.MinioBucket)
	}

	manager := render.NewManager(typeset.New(cfg.ChromiumPath), persons, render.Options{
		TempRoot:     tempRoot,
		MaxWorkers:   cfg.RenderWorkers,
		PollInterval: cfg.RenderPollInterval,
		ArchiveCap:   cfg.RenderArchiveCap,
		Mirror:       mirror,
		Uploader:     uploader,
	})
	go manager.Run(ctx)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewMemory(func() []search.ProjectRecord {
		infos := store.List()
		records := make([]search.ProjectRecord, 0, len(infos))
		for _, info := range infos {
			records = append(records, search.ProjectRecord{ID: info.ID, Name: info.Name})
		}
		return records
	}))

	go store.RunEviction(ctx, cfg.EvictInterval, cfg.EvictTTL)
	go func() {
		// A failing flush means edits are accumulating in memory with no
		// way to reach disk. Better to die loudly than lose data quietly.
		if err := storage.RunPersistence(ctx, cfg.PersistInterval, store, persons); err != nil {
			log.Fatalf("persistence worker failed: %v", err)
		}
	}()

	service := app.NewService(store, persons, manager, searchService, tempRoot)
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
		log.Printf("Folio API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// Last chance for unsaved edits before the process exits.
	if err := store.Flush(); err != nil {
		log.Printf("final project flush failed: %v", err)
	}
	if err := persons.Flush(); err != nil {
		log.Printf("final person flush failed: %v", err)
	}
}
