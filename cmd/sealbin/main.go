package main

import (
	"context"
	"encoding/base64"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sealbin/cfg"
	"sealbin/metrics"
	"sealbin/pkg/secrets"
	"sealbin/svc/api"
	"sealbin/svc/auth"
	"sealbin/svc/db"
	"sealbin/svc/lim"
	"sealbin/svc/svc"
	"sealbin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		dbPath := os.Getenv("DATABASE_PATH")
		if dbPath == "" {
			dbPath = "sealbin.db"
		}
		meta, err := db.NewSQLite(dbPath)
		if err != nil {
			os.Exit(1)
		}
		defer meta.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 1*time.Second)
		defer pingCancel()
		if err := meta.DB().PingContext(pingCtx); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting sealbin API")
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pepper []byte
	if c.PepperFromStore {
		adapter, err := secrets.NewAdapter(ctx)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize secrets adapter")
			os.Exit(1)
		}
		pepperB64, err := adapter.GetSecret(ctx, "TOKEN_PEPPER")
		if err != nil {
			util.Fatal().Err(err).Msg("CRITICAL: failed to load pepper from secrets store")
			os.Exit(1)
		}
		pepper, err = base64.StdEncoding.DecodeString(pepperB64)
		if err != nil {
			util.Fatal().Err(err).Msg("CRITICAL: invalid pepper format")
			os.Exit(1)
		}
	} else {
		pepper = []byte(c.Pepper.Value())
	}
	tokens, err := auth.NewTokenVerifier(pepper)
	util.Wipe(pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize token verifier")
		os.Exit(1)
	}

	meta, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize metadata store")
		os.Exit(1)
	}
	defer meta.Close()
	util.Info().Str("path", c.DatabasePath).Msg("metadata store initialized")

	var rdb *db.Redis
	var payloads svc.PayloadStore
	var payloadPinger api.Pinger
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode), using in-memory payload store")
		} else {
			util.Info().Msg("redis payload store connected")
			payloads = rdb
			payloadPinger = rdb
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}
	if payloads == nil {
		mem := db.NewMemory()
		defer mem.Close()
		payloads = mem
		payloadPinger = mem
		util.Info().Msg("in-memory payload store initialized")
	}

	pasteSvc := svc.NewPaste(meta, payloads, tokens, c)
	util.Info().Msg("paste service initialized")

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, c.RateLimitLRU, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, meta, payloadPinger)

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(meta.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	go pasteSvc.StartSweeper(ctx, c.SweepInterval)

	go func() {
		util.Info().Msg("starting pprof server on :6060")
		if err := http.ListenAndServe(":6060", nil); err != nil {
			util.Warn().Err(err).Msg("pprof server failed")
		}
	}()

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	close(quitWAL)
	cancel()
	pasteSvc.Shutdown()
	util.Info().Msg("Shutdown complete")
}
