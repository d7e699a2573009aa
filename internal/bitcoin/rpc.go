package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/solomine/bchpool/pkg/circuit"
	"github.com/solomine/bchpool/pkg/errors"
	"github.com/solomine/bchpool/pkg/retry"
)

// RPCClient talks to the Bitcoin Cash node's JSON-RPC interface. Calls are
// wrapped in a circuit breaker and retried with backoff; a node outage is
// reported as a typed error, never a hang.
type RPCClient struct {
	client         *rpcclient.Client
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewRPCClient connects to the node over HTTP POST with TLS disabled, the
// usual arrangement for a local node.
func NewRPCClient(host string, port int, username, password string) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNode, "rpc_client_creation",
			"failed to create node RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
	}

	return &RPCClient{
		client:         client,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}, nil
}

// Close shuts the RPC client down.
func (c *RPCClient) Close() {
	c.client.Shutdown()
}

// GetBlockTemplate fetches a fresh block template for mining.
func (c *RPCClient) GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*btcjson.GetBlockTemplateResult, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*btcjson.GetBlockTemplateResult, error) {
			req := &btcjson.TemplateRequest{
				Mode:         "template",
				Capabilities: []string{"coinbasetxn", "workid", "coinbase/append"},
			}

			template, err := c.client.GetBlockTemplateAsync(req).Receive()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeNode, "get_block_template",
					"failed to retrieve block template from node")
			}
			return template, nil
		})
	})
}

// SubmitBlock submits a fully serialized block. The node returns null on
// acceptance and a reason string on rejection; a rejection is returned as an
// error and is not retried.
func (c *RPCClient) SubmitBlock(ctx context.Context, blockHex string) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		param, err := json.Marshal(blockHex)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "submit_block",
				"failed to encode block hex")
		}

		result, err := c.client.RawRequest("submitblock", []json.RawMessage{param})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeNode, "submit_block",
				"failed to submit block to node")
		}

		// submitblock returns null on acceptance and a reason otherwise.
		if len(result) > 0 && string(result) != "null" {
			var reason string
			if err := json.Unmarshal(result, &reason); err != nil {
				reason = string(result)
			}
			rejErr := errors.New(errors.ErrorTypeNode, "submit_block",
				fmt.Sprintf("node rejected block: %s", reason))
			rejErr.Retryable = false
			return rejErr
		}
		return nil
	})
}

// GetMiningInfo returns the node's view of the current network difficulty.
func (c *RPCClient) GetMiningInfo(ctx context.Context) (float64, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (float64, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (float64, error) {
			info, err := c.client.GetMiningInfoAsync().Receive()
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeNode, "get_mining_info",
					"failed to retrieve mining info from node")
			}
			return info.Difficulty, nil
		})
	})
}

// Ping tests connectivity to the node.
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		if err := c.client.Ping(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNode, "ping", "node ping failed")
		}
		return nil
	})
}
