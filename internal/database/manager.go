// Package database provides unified storage management for the pool.
// It coordinates operations across PostgreSQL, Redis, and InfluxDB.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/solomine/bchpool/internal/database/influx"
	"github.com/solomine/bchpool/internal/database/postgres"
	"github.com/solomine/bchpool/internal/database/redis"
	"github.com/solomine/bchpool/pkg/circuit"
	"github.com/solomine/bchpool/pkg/errors"
	"github.com/solomine/bchpool/pkg/retry"
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Miners *postgres.MinerRepository
	Shares *postgres.ShareRepository
	Blocks *postgres.BlockRepository

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// PoolCounters reports live counters from the serving layer. It feeds the
// periodic pool statistics writer.
type PoolCounters func() (activeJobs int, sharesAccepted, sharesRejected uint64)

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			closeErr = errors.Wrap(closeErr, errors.ErrorTypeDatabase, "postgres_cleanup",
				"failed to close PostgreSQL connection during error cleanup")
			return nil, errors.New(errors.ErrorTypeDatabase, "connection_failure",
				"multiple database connection failures").
				WithContext("redis_error", origErr.Error()).
				WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Miners:         postgres.NewMinerRepository(pgClient.DB()),
		Shares:         postgres.NewShareRepository(pgClient.DB()),
		Blocks:         postgres.NewBlockRepository(pgClient.DB()),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// RegisterMiner upserts the (address, worker) pair on authorization.
func (m *Manager) RegisterMiner(ctx context.Context, address, worker string) (*postgres.Miner, error) {
	var miner *postgres.Miner
	err := m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			var err error
			miner, err = m.Miners.Register(ctx, address, worker)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "register_miner",
					"failed to register miner").
					WithContext("miner_address", address).
					WithContext("worker", worker)
			}
			return nil
		})
	})
	return miner, err
}

// GetMinerByAddress returns the most recently seen miner row for an address.
func (m *Manager) GetMinerByAddress(ctx context.Context, address string) (*postgres.Miner, error) {
	return m.Miners.GetByAddress(ctx, address)
}

// RecordShare records a share across all relevant databases
func (m *Manager) RecordShare(ctx context.Context, share *postgres.Share) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			// Store in PostgreSQL for persistence (critical operation)
			if err := m.Shares.CreateShare(ctx, share); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_share",
					"failed to store share in PostgreSQL").
					WithContext("miner_address", share.MinerAddress).
					WithContext("worker", share.Worker).
					WithContext("share_difficulty", share.Difficulty)
			}

			// Record metrics in InfluxDB (best effort, don't retry on failure)
			m.Influx.WriteShareMetric(
				share.MinerAddress,
				share.Worker,
				share.Difficulty,
				share.IsValid,
				share.IsBlockCandidate,
			)

			// Update hashrate in Redis (best effort, don't fail on error)
			hashrate := share.Difficulty * 4294967296 / 600 // Approximate hashrate
			if err := m.Redis.SetHashrate(ctx, share.MinerAddress, share.Worker, hashrate, 10*time.Minute); err != nil {
				redisErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_hashrate_update",
					"failed to update hashrate in Redis (non-critical)")
				redisErr.Retryable = false
				fmt.Printf("Warning: %v\n", redisErr)
			}

			// Keep last_seen fresh for long-lived sessions (best effort)
			if share.IsValid {
				if miner, err := m.Miners.GetByAddress(ctx, share.MinerAddress); err == nil {
					if err := m.Miners.TouchLastSeen(ctx, miner.ID); err != nil {
						fmt.Printf("Warning: failed to touch miner last_seen: %v\n", err)
					}
				}
			}

			return nil
		})
	})
}

// SaveJobSnapshot stores the latest broadcast job in Redis so a restarted
// instance can serve work before the node answers.
func (m *Manager) SaveJobSnapshot(ctx context.Context, job any) error {
	return m.Redis.SetCurrentJob(ctx, job)
}

// LoadJobSnapshot restores the broadcast job saved by a previous run.
func (m *Manager) LoadJobSnapshot(ctx context.Context, dest any) error {
	return m.Redis.GetCurrentJob(ctx, dest)
}

// AllowSubmit checks the per-address submit rate limit. Storage failures
// fail open; a broken Redis must not stop share acceptance.
func (m *Manager) AllowSubmit(ctx context.Context, address string, limit int64, window time.Duration) bool {
	allowed, err := m.Redis.CheckRateLimit(ctx, "submit:"+address, limit, window)
	if err != nil {
		fmt.Printf("Warning: submit rate limit check failed: %v\n", err)
		return true
	}
	return allowed
}

// MinerActivity summarizes a returning miner's recent work: the ten-minute
// average hashrate from Redis and the share count over the last day from
// PostgreSQL. Both are best effort and report zero on storage failure.
func (m *Manager) MinerActivity(ctx context.Context, address, worker string) (hashrate float64, sharesLastDay int64) {
	hashrate, err := m.MinerHashrate(ctx, address, worker)
	if err != nil {
		hashrate = 0
	}
	sharesLastDay, err = m.Shares.CountSharesSince(ctx, address, time.Now().Add(-24*time.Hour))
	if err != nil {
		sharesLastDay = 0
	}
	return hashrate, sharesLastDay
}

// RecordBlock records a found block across all databases
func (m *Manager) RecordBlock(ctx context.Context, block *postgres.Block) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			// Store in PostgreSQL (critical operation)
			if err := m.Blocks.CreateBlock(ctx, block); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_block",
					"failed to store block in PostgreSQL").
					WithContext("block_hash", block.Hash).
					WithContext("block_height", block.Height).
					WithContext("miner_address", block.MinerAddress).
					WithContext("worker", block.Worker)
			}

			// Record metrics in InfluxDB (best effort)
			m.Influx.WriteBlockMetric(
				block.MinerAddress,
				block.Worker,
				block.Height,
				block.Difficulty,
				block.Reward,
			)

			return nil
		})
	})
}

// UpdateBlockStatus moves a recorded block through its submission lifecycle
// (pending, accepted, rejected, confirmed).
func (m *Manager) UpdateBlockStatus(ctx context.Context, blockID int64, status string, confirmations int) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Blocks.UpdateBlockStatus(ctx, blockID, status, confirmations); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "update_block_status",
					"failed to update block status").
					WithContext("block_id", blockID).
					WithContext("status", status)
			}
			return nil
		})
	})
}

// ConnectionOpened bumps the live connection gauge and records the event.
func (m *Manager) ConnectionOpened(ctx context.Context, remoteAddr string) {
	if _, err := m.Redis.IncrActiveConnections(ctx); err != nil {
		fmt.Printf("Warning: failed to bump connection counter: %v\n", err)
	}
	m.Influx.WriteConnectionMetric("connected", remoteAddr)
}

// ConnectionClosed drops the live connection gauge and records the event.
func (m *Manager) ConnectionClosed(ctx context.Context, remoteAddr string) {
	if _, err := m.Redis.DecrActiveConnections(ctx); err != nil {
		fmt.Printf("Warning: failed to drop connection counter: %v\n", err)
	}
	m.Influx.WriteConnectionMetric("disconnected", remoteAddr)
}

// MinerHashrate returns the average hashrate of an address/worker pair over
// the last ten minutes.
func (m *Manager) MinerHashrate(ctx context.Context, address, worker string) (float64, error) {
	return m.Redis.GetAverageHashrate(ctx, address, worker, 10*time.Minute)
}

// PoolStats represents pool-wide statistics
type PoolStats struct {
	TotalHashrate     float64
	ActiveConnections int64
	RecentBlocks      []*postgres.Block
	LastUpdated       time.Time
}

// GetPoolStats retrieves pool-wide statistics
func (m *Manager) GetPoolStats(ctx context.Context) (*PoolStats, error) {
	poolHashrate, err := m.Influx.GetPoolHashrate(ctx, 10*time.Minute)
	if err != nil {
		poolHashrate = 0
	}

	recentBlocks, err := m.Blocks.GetRecentBlocks(ctx, 10, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blocks: %w", err)
	}

	activeConnections, _ := m.Redis.GetCounter(ctx, "active_connections")

	return &PoolStats{
		TotalHashrate:     poolHashrate,
		ActiveConnections: activeConnections,
		RecentBlocks:      recentBlocks,
		LastUpdated:       time.Now(),
	}, nil
}

// StartPeriodicTasks starts background tasks for database maintenance
func (m *Manager) StartPeriodicTasks(ctx context.Context, counters PoolCounters) {
	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	// Write pool statistics every minute
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				activeConnections, _ := m.Redis.GetCounter(ctx, "active_connections")
				activeJobs, accepted, rejected := counters()
				m.Influx.WritePoolStatsMetric(activeConnections, activeJobs, accepted, rejected)
			}
		}
	}()
}
