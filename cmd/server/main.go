package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docuchat/internal/app"
	"docuchat/internal/config"
	"docuchat/internal/ratelimit"
	"docuchat/internal/server"
	"docuchat/internal/usertoken"
	"docuchat/internal/util"
	"docuchat/pkg/ai"
	"docuchat/pkg/queue"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.VerifierOptions{
		PublicKeyPath:  cfg.Auth.PublicKeyPath,
		KeyID:          cfg.Auth.KeyID,
		VerifyKeyPaths: cfg.Auth.VerifyKeyPaths,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}

	rateLimit := cfg.RateLimit.Limit
	if rateLimit <= 0 {
		rateLimit = 100
	}
	rateWindow := cfg.RateLimit.Window
	if rateWindow <= 0 {
		rateWindow = time.Hour
	}
	limiter, err := ratelimit.NewRedisLimiter(cfg.Redis.Addr, cfg.Redis.Password, "", rateLimit, rateWindow)
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}

	analysisQueue, err := queue.NewRedisAnalysisQueue(queue.RedisQueueConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Redis.Group,
	})
	if err != nil {
		util.Fatal("failed to init analysis queue", "err", err)
	}

	var objects storage.ObjectStore
	if cfg.Objects.Endpoint != "" {
		objects, err = storage.NewMinioStore(cfg.Objects.Endpoint, cfg.Objects.AccessKey, cfg.Objects.SecretKey, cfg.Objects.Bucket, cfg.Objects.UseSSL)
		if err != nil {
			util.Fatal("failed to init object store", "err", err)
		}
	}

	completer := ai.NewOpenAICompatClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model)

	appCore, err := app.New(app.Config{
		Store:     dataStore,
		Completer: completer,
		Limiter:   limiter,
		Objects:   objects,
		Queue:     analysisQueue,
		Logger:    logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCore.StartWorkers(ctx, cfg.Workers.Concurrency)

	httpServer := server.New(server.Config{
		App:           appCore,
		Store:         dataStore,
		TokenVerifier: tokenVerifier,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
