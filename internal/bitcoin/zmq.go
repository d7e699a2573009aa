package bitcoin

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	zmq "github.com/pebbe/zmq4"
)

// ZMQNotifier receives push notifications from the node's ZMQ publisher.
// The pool subscribes to hashblock so a chain tip change triggers an
// immediate template refresh instead of waiting for the next poll.
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
}

// NewZMQNotifier creates a SUB socket for the given endpoint.
func NewZMQNotifier(endpoint string, logger *slog.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Subscribe adds a topic subscription.
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the node's ZMQ endpoint.
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen receives messages until the context is cancelled, dispatching each
// to the handler. Handler errors are logged and never stop the loop.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	z.logger.Info("starting ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				continue
			}
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		if err := handler(topic, msg[1]); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket.
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// HashBlockTopic is the node's new-block notification topic.
const HashBlockTopic = "hashblock"

// DecodeHashBlock converts a hashblock payload to the display form block
// hash (the node publishes raw little-endian bytes).
func DecodeHashBlock(data []byte) (string, error) {
	if len(data) != 32 {
		return "", fmt.Errorf("invalid block hash length: %d", len(data))
	}
	reversed := make([]byte, 32)
	for i := range reversed {
		reversed[i] = data[31-i]
	}
	return hex.EncodeToString(reversed), nil
}
