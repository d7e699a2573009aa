// Package main implements poold, the solo mining pool daemon. It serves
// Stratum V1 over TCP and WebSocket, builds jobs from node block templates
// and submits solved blocks back to the node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solomine/bchpool/internal/bitcoin"
	"github.com/solomine/bchpool/internal/cashaddr"
	"github.com/solomine/bchpool/internal/config"
	"github.com/solomine/bchpool/internal/database"
	"github.com/solomine/bchpool/internal/database/influx"
	"github.com/solomine/bchpool/internal/database/postgres"
	"github.com/solomine/bchpool/internal/database/redis"
	"github.com/solomine/bchpool/internal/jobs"
	"github.com/solomine/bchpool/internal/messaging"
	"github.com/solomine/bchpool/internal/validation"
	"github.com/solomine/bchpool/internal/vardiff"
	"github.com/solomine/bchpool/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting poold",
		"version", cfg.Version,
		"network", cfg.Network,
		"listen_addr", cfg.ListenAddr,
		"listen_port", cfg.ListenPort,
		"ws_port", cfg.WSListenPort,
	)

	if cfg.FallbackPayoutAddress != "" {
		if _, _, err := cashaddr.Hash160ForNetwork(cfg.FallbackPayoutAddress, cfg.CashAddrPrefix()); err != nil {
			logger.WithError(err).Error("invalid fallback payout address")
			os.Exit(1)
		}
	}

	// Connect to the Bitcoin Cash node
	node, err := bitcoin.NewRPCClient(cfg.NodeRPCHost, cfg.NodeRPCPort, cfg.NodeRPCUser, cfg.NodeRPCPassword)
	if err != nil {
		logger.WithError(err).Error("failed to create node RPC client")
		os.Exit(1)
	}

	// ZMQ is optional; without it the pool falls back to template polling.
	var notifier bitcoin.BlockNotifier
	if cfg.NodeZMQAddr != "" {
		zmqNotifier, err := bitcoin.NewZMQNotifier(cfg.NodeZMQAddr, logger.Logger)
		if err != nil {
			logger.WithError(err).Warn("ZMQ notifier unavailable, using template polling only")
		} else {
			notifier = zmqNotifier
		}
	}

	// Create Kafka client
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

	// Create database manager
	dbConfig := &database.Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		logger.WithError(err).Error("failed to create database manager")
		os.Exit(1)
	}

	// Mining pipeline
	assembler := bitcoin.NewAssembler(cfg.CoinbaseTag, cfg.MaxScriptSigLen)
	builder := jobs.NewBuilder(assembler, cfg.ExtraNonce2Size)

	var validator *validation.Validator
	registry := jobs.NewRegistry(builder, func(jobID string) {
		validator.ReleaseJob(jobID)
	})
	validator = validation.NewValidator(registry, assembler, cfg.ExtraNonce2Size, cfg.NoncesPerJobCap, logger)

	diffController := vardiff.NewController(
		cfg.StartDifficulty,
		cfg.MinDifficulty,
		cfg.MaxDifficulty,
		cfg.TargetSharesPerMinute,
		cfg.VardiffEnabled,
	)

	server := NewServer(cfg, logger, node, notifier, registry, builder, validator, diffController, dbManager, kafkaClient)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Mirror block events from sibling instances into this instance's log.
	if cfg.KafkaGroupID != "" {
		go followBlockEvents(ctx, kafkaClient, cfg.KafkaGroupID, logger)
	}

	// Start the server
	go func() {
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	node.Close()
	logger.Info("poold stopped")
}

// followBlockEvents tails the shared block event stream so operators see
// blocks found by any frontend of the pool, not just this one.
func followBlockEvents(ctx context.Context, kafkaClient *messaging.KafkaClient, groupID string, logger *log.Logger) {
	reader := kafkaClient.GetConsumer(messaging.TopicBlocks, groupID)
	for {
		var event messaging.BlockEvent
		if _, err := kafkaClient.Consume(ctx, reader, &event); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("block event stream read failed")
			time.Sleep(time.Second)
			continue
		}
		logger.LogBlockFound(event.BlockHash, event.BlockHeight,
			event.MinerAddress, event.WorkerName, event.Difficulty)
	}
}
