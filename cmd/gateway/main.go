package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vistone/fingerprint-gateway/internal/config"
	"github.com/vistone/fingerprint-gateway/internal/server"
	"github.com/vistone/fingerprint-gateway/internal/storage"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	configPath := "config.json"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var redis *storage.RedisClient
	if cfg.Redis.Enabled {
		redis, err = storage.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Redis unavailable, continuing without snapshots and key cache: %v", err)
			redis = nil
		} else {
			defer redis.Close()
			log.Println("Connected to redis successfully")
		}
	}

	var postgres *storage.Postgres
	if cfg.Postgres.Enabled {
		postgres, err = storage.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.Printf("Postgres unavailable, continuing without API keys and request logs: %v", err)
			postgres = nil
		} else {
			defer postgres.Close()
			if err := postgres.AutoMigrate(); err != nil {
				log.Fatalf("Failed to run migrations: %v", err)
			}
			log.Println("Connected to postgres successfully")
		}
	}

	srv := server.New(cfg, redis, postgres)

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
