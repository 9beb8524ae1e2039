package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app"
	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var archive *app.Archive
	if cfg.DB.URL != "" {
		archive, err = app.OpenArchive(cfg)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer archive.Close()
	}

	var probs app.MoveProbSource
	if cfg.Predictor.URL != "" {
		probs = app.NewHTTPPredictor(cfg.Predictor.URL)
	}

	cache := app.NewAnalysisCache(cfg.CacheSize)
	pool := app.NewEnginePool(app.PoolConfig{
		EnginePath:       cfg.Engine.Path,
		MaxWorkers:       cfg.Pool.MaxWorkers,
		MaxLoadPercent:   cfg.Pool.MaxLoadPercent,
		HashCeilingMb:    cfg.Pool.HashCeilingMb,
		DiscoveryDepth:   cfg.Engine.DiscoveryDepth,
		DiscoveryLines:   cfg.Engine.DiscoveryLines,
		EvalDepth:        cfg.Engine.EvalDepth,
		EaseDepth:        cfg.Engine.EaseDepth,
		EaseMoves:        cfg.Pool.EaseMoves,
		ThreadsPerWorker: cfg.Engine.Threads,
		Elo:              cfg.Predictor.Elo,
	}, probs, cache, logger)
	defer pool.Dispose()
	if archive != nil {
		pool.SetMoveSource(archive)
		pool.SetSnapshotSink(archive)
	}

	server := app.NewServer(pool, cache, archive, logger)
	router := app.NewRouter(server)

	// make sure engines are reaped on ctrl-c
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		pool.Dispose()
		os.Exit(0)
	}()

	if err := router.Run("0.0.0.0:" + cfg.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
