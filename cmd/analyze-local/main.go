package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app"
	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/config"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func main() {
	start := time.Now()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fen := startFEN
	if len(os.Args) > 1 {
		fen = os.Args[1]
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var probs app.MoveProbSource
	if cfg.Predictor.URL != "" {
		probs = app.NewHTTPPredictor(cfg.Predictor.URL)
	}

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
	}, probs, app.NewAnalysisCache(cfg.CacheSize), logger)
	defer pool.Dispose()

	// print progress as the pipeline moves
	status, stop := pool.Subscribe()
	defer stop()
	go func() {
		for st := range status {
			log.Printf("phase=%s completed=%d/%d workers=%d hash=%dMB",
				st.Phase, st.Completed, st.Total, st.ActiveWorkers, st.HashPerWorkerMb)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	snap, err := pool.Analyze(ctx, fen)
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	out, _ := json.MarshalIndent(snap, "", "  ")
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
	log.Printf("Took %s", time.Since(start))
}
