// Command portal-authd runs the portal authentication service: the
// /auth/* endpoints, a Prometheus scrape endpoint, and a health probe.
//
// Configuration comes from flags plus environment variables for secrets:
//
//	AUTH_JWT_SECRET       HS256 signing secret, at least 32 bytes
//	AUTH_COOKIE_HASH_KEY  cookie HMAC key, 32 or 64 bytes
//	AUTH_COOKIE_BLOCK_KEY optional cookie encryption key (16/24/32 bytes)
//	AUTH_DEMO_PASSWORD    seeds the demo account when -demo is set
//
// Without -redis the session registry and login throttle run in memory,
// which is only suitable for a single instance.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	authcore "github.com/govportal/authcore"
	"github.com/govportal/authcore/cookie"
	"github.com/govportal/authcore/httpapi"
	"github.com/govportal/authcore/internal/audit"
	"github.com/govportal/authcore/internal/obs"
	"github.com/govportal/authcore/middleware"
	"github.com/govportal/authcore/password"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "listen address")
		redisAddr = flag.String("redis", "", "redis address; empty runs in-memory backends")
		dev       = flag.Bool("dev", false, "plain-HTTP mode: drop the Secure cookie flag")
		demo      = flag.Bool("demo", false, "seed an in-memory demo account instead of a real user store")
		debug     = flag.Bool("debug", false, "log at debug level")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := obs.NewLogger(os.Stdout, level)

	if err := run(logger, *addr, *redisAddr, *dev, *demo); err != nil {
		logger.Error("portal-authd failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, redisAddr string, dev, demo bool) error {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if len(secret) < 32 {
		return errors.New("AUTH_JWT_SECRET must be set to at least 32 bytes")
	}
	hashKey := os.Getenv("AUTH_COOKIE_HASH_KEY")
	if hashKey == "" {
		return errors.New("AUTH_COOKIE_HASH_KEY must be set")
	}

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = []byte(secret)

	if !demo {
		return errors.New("no user store wired; run with -demo or link a UserProvider")
	}
	provider, err := seedDemoProvider(cfg.Password, os.Getenv("AUTH_DEMO_PASSWORD"))
	if err != nil {
		return err
	}

	builder := authcore.NewBuilder().
		WithConfig(cfg).
		WithUserProvider(provider).
		WithAuditSink(audit.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger)

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		builder = builder.WithRedis(rdb)
		logger.Info("redis backends enabled", "addr", redisAddr)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	codec, err := cookie.New(cookie.Config{
		HashKey:  []byte(hashKey),
		BlockKey: blockKey(),
		DevMode:  dev,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	engine.Start(ctx)

	obs.Init()
	api := httpapi.New(engine, codec, logger, cfg.TwoFactor.SetupURL)
	throttled := middleware.IPRateLimit(5, 10)(api.Routes())

	mux := http.NewServeMux()
	mux.Handle("/auth/", throttled)
	mux.Handle("GET /metrics", obs.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           obs.Instrument(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("portal-authd listening", "addr", addr, "dev", dev)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func blockKey() []byte {
	if k := os.Getenv("AUTH_COOKIE_BLOCK_KEY"); k != "" {
		return []byte(k)
	}
	return nil
}

// seedDemoProvider hashes the demo password and returns a single-account
// in-memory store. The demo account is an editor named inspector.demo.
func seedDemoProvider(pw authcore.PasswordConfig, plaintext string) (*memoryProvider, error) {
	if plaintext == "" {
		return nil, errors.New("AUTH_DEMO_PASSWORD must be set in demo mode")
	}
	hasher, err := password.New(password.Config{
		Memory:      pw.Memory,
		Time:        pw.Time,
		Parallelism: pw.Parallelism,
		SaltLength:  pw.SaltLength,
		KeyLength:   pw.KeyLength,
		MinLength:   pw.MinLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	provider := newMemoryProvider()
	provider.putUser(authcore.UserRecord{
		UserID:       "demo-1",
		Username:     "inspector.demo",
		Email:        "inspector.demo@portal.local",
		PasswordHash: hash,
		Role:         "editor",
		Status:       authcore.AccountActive,
		IsFirstLogin: true,
	})
	return provider, nil
}
