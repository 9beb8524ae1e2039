package config

import (
	"log"
	"os"
	"strconv"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port      string
	DB        PostgresConfig
	Engine    EngineConfig
	Pool      PoolConfig
	Predictor PredictorConfig
	CacheSize int
}

type PostgresConfig struct {
	Username string
	Password string
	URL      string
	Port     string
}

type EngineConfig struct {
	Path           string
	DiscoveryDepth int
	DiscoveryLines int
	EvalDepth      int
	EaseDepth      int
	Threads        int
}

type PoolConfig struct {
	MaxWorkers     int
	MaxLoadPercent int
	HashCeilingMb  int
	EaseMoves      int
}

type PredictorConfig struct {
	URL string
	Elo int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port: envStr("PORT", "8080"),
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     os.Getenv("POSTGRES_PORT"),
		},
		Engine: EngineConfig{
			Path:           envStr("ENGINE_PATH", "stockfish"),
			DiscoveryDepth: envInt("ENGINE_DISCOVERY_DEPTH", 18),
			DiscoveryLines: envInt("ENGINE_MULTIPV", 5),
			EvalDepth:      envInt("ENGINE_EVAL_DEPTH", 16),
			EaseDepth:      envInt("ENGINE_EASE_DEPTH", 10),
			Threads:        envInt("ENGINE_THREADS", 1),
		},
		Pool: PoolConfig{
			MaxWorkers:     envInt("MAX_WORKERS", 4),
			MaxLoadPercent: envInt("MAX_LOAD_PERCENT", 90),
			HashCeilingMb:  envInt("ENGINE_HASH_CEILING_MB", 2048),
			EaseMoves:      envInt("EASE_MOVES", 3),
		},
		Predictor: PredictorConfig{
			URL: os.Getenv("PREDICTOR_URL"),
			Elo: envInt("PREDICTOR_ELO", 1500),
		},
		CacheSize: envInt("CACHE_CAPACITY", 64),
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Error converting string to int: %s: %v", key, err)
	}
	return n
}
