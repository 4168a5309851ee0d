package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/balatonbet/balaton/pkg/server"
)

func main() {
	var (
		redisAddr  string
		redisDB    int
		dbPath     string
		duration   time.Duration
		seed       int64
		debugLevel string
	)
	flag.StringVar(&redisAddr, "redisaddr", "127.0.0.1:6379", "Redis address")
	flag.IntVar(&redisDB, "redisdb", 0, "Redis database index")
	flag.StringVar(&dbPath, "db", "", "Path to SQLite archive file (created if missing)")
	flag.DurationVar(&duration, "duration", 0, "Round duration (0 = server default)")
	flag.Int64Var(&seed, "seed", 0, "Deterministic RNG seed for decks (0 = random)")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	if dbPath == "" {
		// Default to temp dir
		tmp := os.TempDir()
		dbPath = filepath.Join(tmp, "balaton.sqlite")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	db, err := server.NewDatabase(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Fast store
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to reach redis at %s: %v\n", redisAddr, err)
		os.Exit(1)
	}

	// Logging backend
	logBackend, _ := logging.NewLogBackend(logging.LogConfig{DebugLevel: debugLevel})

	if seed == 0 {
		// Allow env override for convenience
		if env := os.Getenv("BALATON_SEED"); env != "" {
			if v, err := strconv.ParseInt(env, 10, 64); err == nil {
				seed = v
			}
		}
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	cfg := server.DefaultConfig()
	if duration > 0 {
		cfg.RoundDuration = duration
	}

	srv, err := server.NewServer(cfg, rdb, db, rng, logBackend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	// Run the round engine (blocking)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
