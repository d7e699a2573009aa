package stratum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solomine/bchpool/pkg/log"
)

// Session represents one miner connection, on either transport. It owns the
// read and write loops and the per-connection protocol state.
type Session struct {
	id     string
	conn   Conn
	logger *log.Logger

	// Session state
	subscribed  bool
	authorized  bool
	address     string
	workerName  string
	extraNonce1 string
	difficulty  float64
	jobID       string

	// Connection management
	readTimeout  time.Duration
	writeTimeout time.Duration

	// Channels for communication
	outbound chan []byte
	done     chan struct{}

	closeOnce sync.Once
	onClose   func(*Session)

	// Synchronization
	mu sync.RWMutex
}

// NewSession creates a session over an accepted transport connection.
// onClose runs exactly once when the session shuts down, after the done
// channel is closed; it may be nil.
func NewSession(id string, conn Conn, logger *log.Logger, readTimeout, writeTimeout time.Duration, onClose func(*Session)) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		logger:       logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr()),
		difficulty:   1.0,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, 100),
		done:         make(chan struct{}),
		onClose:      onClose,
	}
}

// Start begins processing the session
func (s *Session) Start(ctx context.Context, handler MessageHandler) error {
	s.logger.LogConnection("connected", s.conn.RemoteAddr())

	// Start the write goroutine
	go s.writeLoop(ctx)

	// Start the read loop in the current goroutine
	return s.readLoop(ctx, handler)
}

// readLoop handles incoming messages from the client
func (s *Session) readLoop(ctx context.Context, handler MessageHandler) error {
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		// Set read deadline
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.logger.WithError(err).Error("failed to set read deadline")
			return err
		}

		line, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.logger.WithError(err).Info("client disconnected")
			return nil
		}

		s.logger.LogStratumMessage("received", string(line))

		// Parse the message
		msg, err := ParseMessage(line)
		if err != nil {
			s.logger.WithError(err).Error("failed to parse message")
			if sendErr := s.SendError(nil, ErrorParseError, "Parse error"); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send parse error")
			}
			continue
		}

		// Handle the message
		if err := handler.HandleMessage(ctx, s, msg); err != nil {
			s.logger.WithError(err).Error("failed to handle message")
		}
	}
}

// writeLoop handles outbound messages to the client
func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.WithError(err).Error("failed to set write deadline")
				return
			}

			if err := s.conn.WriteMessage(data); err != nil {
				s.logger.WithError(err).Error("failed to write message")
				return
			}

			s.logger.LogStratumMessage("sent", string(data))
		}
	}
}

// SendMessage sends a message to the client
func (s *Session) SendMessage(msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		return fmt.Errorf("outbound channel full")
	}
}

// SendResponse sends a response message
func (s *Session) SendResponse(id any, result any) error {
	return s.SendMessage(NewResponse(id, result))
}

// SendError sends an error response
func (s *Session) SendError(id any, code int, message string) error {
	return s.SendMessage(NewErrorResponse(id, code, message))
}

// SendNotification sends a notification message
func (s *Session) SendNotification(method string, params []any) error {
	return s.SendMessage(NewNotification(method, params))
}

// Close closes the session and runs the close hook once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.logger.LogConnection("disconnected", s.conn.RemoteAddr())
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the remote address of the client connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// IsSubscribed returns whether the session has completed mining.subscribe.
func (s *Session) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// SetSubscribed sets the subscription status of the session.
func (s *Session) SetSubscribed(subscribed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = subscribed
}

// IsAuthorized returns whether the session has completed mining.authorize.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// SetAuthorized sets the authorization status of the session.
func (s *Session) SetAuthorized(authorized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = authorized
}

// Address returns the miner's payout address bound at authorization.
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// SetAddress binds the miner's payout address to the session.
func (s *Session) SetAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
}

// WorkerName returns the worker name for this session.
func (s *Session) WorkerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workerName
}

// SetWorkerName sets the worker name for this session.
func (s *Session) SetWorkerName(workerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerName = workerName
}

// ExtraNonce1 returns the ExtraNonce1 value for this session.
func (s *Session) ExtraNonce1() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extraNonce1
}

// SetExtraNonce1 sets the ExtraNonce1 value for this session.
func (s *Session) SetExtraNonce1(extraNonce1 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraNonce1 = extraNonce1
}

// Difficulty returns the current difficulty target for this session.
func (s *Session) Difficulty() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.difficulty
}

// SetDifficulty sets the difficulty target for this session.
func (s *Session) SetDifficulty(difficulty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.difficulty = difficulty
}

// JobID returns the id of the last job pushed to this session.
func (s *Session) JobID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobID
}

// SetJobID records the id of the last job pushed to this session.
func (s *Session) SetJobID(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobID = jobID
}

// MessageHandler interface for handling Stratum messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, msg *Message) error
}
