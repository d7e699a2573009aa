package messaging

// Topic constants for the pool event stream
const (
	// Share events (accepted and rejected submissions)
	TopicShares = "pool.shares"

	// Block events (candidates found and submission results)
	TopicBlocks = "pool.blocks"

	// Periodic pool-wide statistics snapshots
	TopicPoolStats = "pool.stats"
)
