package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolbox/internal/compress"
	cfgpkg "github.com/local/pdftoolbox/internal/config"
	"github.com/local/pdftoolbox/internal/convert"
	logpkg "github.com/local/pdftoolbox/internal/logger"
	"github.com/local/pdftoolbox/internal/metrics"
	"github.com/local/pdftoolbox/internal/queue"
	"github.com/local/pdftoolbox/internal/storage"
	"github.com/local/pdftoolbox/internal/store"
	web "github.com/local/pdftoolbox/internal/web"
	"github.com/local/pdftoolbox/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	// Status store
	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	// Artifact store (optional)
	var artifacts *storage.Store
	if cfg.Storage.Bucket != "" {
		artifacts, err = storage.New(context.Background(), storage.Options{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 artifact store")
		}
		log.Info().Str("bucket", cfg.Storage.Bucket).Msg("s3 artifact store enabled")
	}

	// Engines
	gs := compress.NewGhostscript(cfg.Backends.GhostscriptBin, cfg.Backends.Timeout)
	if !gs.Available() {
		log.Warn().Str("bin", cfg.Backends.GhostscriptBin).Msg("ghostscript not found, compression jobs will fail")
	}
	compressor := compress.New(gs)

	office := convert.NewOffice(cfg.Backends.LibreOfficeBin, cfg.Backends.Timeout)
	converter := convert.New(convert.NewFitz(), convert.NewFitz(), office, cfg.Worker.PageWorkers)

	mux := http.NewServeMux()
	api := web.New(cfg, rq, rs, artifacts)
	api.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := rq.Ping(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	// Worker pool (optional, split out via RUN_WORKERS=0)
	runWorkers := os.Getenv("RUN_WORKERS")
	if runWorkers == "" || runWorkers == "1" || runWorkers == "true" {
		pool := worker.New(worker.Config{
			Concurrency: cfg.Worker.Concurrency,
			JobTimeout:  cfg.Worker.JobTimeout,
			DataDir:     cfg.Paths.DataDir,
			ResultTTL:   cfg.Paths.ResultTTL,
		}, rq, rs, compressor, converter, artifacts)
		pool.Start()
		defer pool.Stop(context.Background())
	}

	// Queue depth gauges
	depthCtx, stopDepths := context.WithCancel(context.Background())
	defer stopDepths()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-depthCtx.Done():
				return
			case <-ticker.C:
				if stream, delayed, dlq, err := rq.Depths(depthCtx); err == nil {
					metrics.SetQueueDepth("stream", stream)
					metrics.SetQueueDepth("delayed", delayed)
					metrics.SetQueueDepth("dlq", dlq)
				}
			}
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
