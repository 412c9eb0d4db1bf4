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

	"github.com/joho/godotenv"

	"agenthq/gateway/internal/app"
	"agenthq/gateway/internal/config"
	"agenthq/gateway/internal/identity"
	"agenthq/gateway/internal/profilecache"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, using environment variables")
	}
	cfg := config.Load()

	identityClient := identity.NewClient(cfg.IdentityUserinfoURL)

	var cache profilecache.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for profile cache")
		redisStore, err := profilecache.NewRedisStore(cfg.RedisURL, cfg.ProfileCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		cache = redisStore
	} else {
		log.Printf("Using in-memory profile cache")
		cache = profilecache.NewMemoryStore(cfg.ProfileCacheTTL)
	}

	service := app.New(cfg, identityClient, cache)
	defer service.Close()

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
		log.Printf("Session gateway listening on %s", cfg.Addr)
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
