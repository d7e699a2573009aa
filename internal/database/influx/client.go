// Package influx records time-series metrics for shares, blocks, hashrate
// and connection activity.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for pool metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	org      string
	bucket   string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}, nil
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("health check failed: %s", health.Status)
	}
	return nil
}

// WriteShareMetric writes share submission metrics
func (c *Client) WriteShareMetric(address, worker string, difficulty float64, valid, blockCandidate bool) {
	point := write.NewPoint(
		"shares",
		map[string]string{
			"miner_address": address,
			"worker":        worker,
			"valid":         fmt.Sprintf("%t", valid),
		},
		map[string]interface{}{
			"difficulty":      difficulty,
			"block_candidate": blockCandidate,
			"count":           1,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteHashrateMetric writes hashrate metrics
func (c *Client) WriteHashrateMetric(address, worker string, hashrate float64) {
	point := write.NewPoint(
		"hashrate",
		map[string]string{
			"miner_address": address,
			"worker":        worker,
		},
		map[string]interface{}{
			"hashrate": hashrate,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteBlockMetric writes block found metrics
func (c *Client) WriteBlockMetric(address, worker string, height int64, difficulty float64, reward int64) {
	point := write.NewPoint(
		"blocks",
		map[string]string{
			"miner_address": address,
			"worker":        worker,
		},
		map[string]interface{}{
			"height":     height,
			"difficulty": difficulty,
			"reward":     reward,
			"count":      1,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoolStatsMetric writes pool-wide statistics
func (c *Client) WritePoolStatsMetric(activeConnections int64, activeJobs int, sharesAccepted, sharesRejected uint64) {
	point := write.NewPoint(
		"pool_stats",
		map[string]string{},
		map[string]interface{}{
			"active_connections": activeConnections,
			"active_jobs":        activeJobs,
			"shares_accepted":    int64(sharesAccepted),
			"shares_rejected":    int64(sharesRejected),
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteConnectionMetric writes connection events
func (c *Client) WriteConnectionMetric(event, remoteAddr string) {
	point := write.NewPoint(
		"connections",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"remote_addr": remoteAddr,
			"count":       1,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// GetPoolHashrate retrieves the pool's total hashrate over a window
func (c *Client) GetPoolHashrate(ctx context.Context, window time.Duration) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r._field == "hashrate")
		|> group()
		|> mean()
	`, c.bucket, window.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query pool hashrate: %w", err)
	}
	defer result.Close()

	if result.Next() {
		if val, ok := result.Record().Value().(float64); ok {
			return val, nil
		}
	}
	return 0, result.Err()
}

// Flush forces all pending writes to be sent
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
