package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	bidding "online-auction/internal/biddingService"
	"online-auction/internal/closer"
	"online-auction/internal/config"
	"online-auction/internal/repository"
	"online-auction/internal/scheduler"
	"online-auction/internal/server"
	"online-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		utils.Fatal("invalid log level", map[string]any{"error": err.Error()})
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to open store", map[string]any{"driver": cfg.StoreDriver, "error": err.Error()})
	}
	defer closeStore()
	utils.Info("store ready", map[string]any{"driver": cfg.StoreDriver})

	biddingSvc := bidding.NewBiddingService(repo, bidding.WithRetryLimit(cfg.BidRetryLimit))
	auctionCloser := closer.NewCloser(repo,
		closer.WithWorkers(cfg.CloserWorkers),
		closer.WithRetryLimit(cfg.BidRetryLimit),
		closer.WithLotTimeout(cfg.CloserTimeout),
	)

	sweeps := scheduler.NewScheduler(auctionCloser, cfg.SweepInterval)
	sweeps.Start()

	// HTTP API
	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.SetupRouter(biddingSvc),
	}
	go func() {
		utils.Info("HTTP server listening", map[string]any{"address": cfg.ServerAddress})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("HTTP server error", map[string]any{"error": err.Error()})
		}
	}()

	// gRPC health
	healthServer := server.NewHealthServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		utils.Fatal("failed to listen for gRPC", map[string]any{"address": cfg.GRPCAddress, "error": err.Error()})
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			utils.Error("gRPC server error", map[string]any{"error": err.Error()})
		}
	}()
	healthServer.SetServing(true)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	utils.Info("shutting down", map[string]any{"signal": sig.String()})
	healthServer.SetServing(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		utils.Error("HTTP server shutdown error", map[string]any{"error": err.Error()})
	}
	utils.Info("HTTP server stopped", nil)

	sweeps.Stop()
	healthServer.Stop()
}

// openStore builds the AuctionDB selected by STORE_DRIVER, running migrations first when MIGRATION_URL is set
func openStore(ctx context.Context, cfg config.Config) (repository.AuctionDB, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if cfg.MigrationURL != "" {
			if err := repository.RunMigrations(cfg.MigrationURL, cfg.PostgresConn); err != nil {
				return nil, nil, err
			}
		}
		pool, err := repository.NewPostgresPool(ctx, cfg.PostgresConn)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresRepo(pool), pool.Close, nil

	case config.DriverMySQL:
		if cfg.MigrationURL != "" {
			if err := repository.RunMigrations(cfg.MigrationURL, "mysql://"+cfg.MySQLDSN); err != nil {
				return nil, nil, err
			}
		}
		db, err := repository.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewMySQLRepo(db), func() { _ = db.Close() }, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		return repository.NewRedisRepo(client), func() { _ = client.Close() }, nil

	default:
		return repository.NewMemoryRepo(), func() {}, nil
	}
}
