package bitcoin

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
)

// NodeRPC is the node-facing contract consumed by the job registry and the
// submit path. It exists so those components can be tested against a mock
// node.
type NodeRPC interface {
	// GetBlockTemplate retrieves a block template for mining.
	GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error)

	// SubmitBlock submits a fully serialized block to the network.
	SubmitBlock(ctx context.Context, blockHex string) error

	// GetMiningInfo returns the current network difficulty.
	GetMiningInfo(ctx context.Context) (float64, error)

	// Ping tests node connectivity.
	Ping(ctx context.Context) error

	// Close shuts the client down.
	Close()
}

// BlockNotifier is the contract for node push notifications.
type BlockNotifier interface {
	Subscribe(topic string) error
	Connect() error
	Listen(ctx context.Context, handler func(topic string, data []byte) error) error
	Close() error
}

// Compile-time interface compliance checks.
var (
	_ NodeRPC       = (*RPCClient)(nil)
	_ BlockNotifier = (*ZMQNotifier)(nil)
)
