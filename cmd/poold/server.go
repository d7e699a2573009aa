package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/gorilla/websocket"

	"github.com/solomine/bchpool/internal/bitcoin"
	"github.com/solomine/bchpool/internal/config"
	"github.com/solomine/bchpool/internal/database"
	"github.com/solomine/bchpool/internal/database/postgres"
	"github.com/solomine/bchpool/internal/jobs"
	"github.com/solomine/bchpool/internal/messaging"
	"github.com/solomine/bchpool/internal/stratum"
	"github.com/solomine/bchpool/internal/validation"
	"github.com/solomine/bchpool/internal/vardiff"
	"github.com/solomine/bchpool/pkg/log"
)

// Persistence is the storage surface the server needs. *database.Manager
// implements it.
type Persistence interface {
	RegisterMiner(ctx context.Context, address, worker string) (*postgres.Miner, error)
	MinerActivity(ctx context.Context, address, worker string) (hashrate float64, sharesLastDay int64)
	RecordShare(ctx context.Context, share *postgres.Share) error
	RecordBlock(ctx context.Context, block *postgres.Block) error
	UpdateBlockStatus(ctx context.Context, blockID int64, status string, confirmations int) error
	SaveJobSnapshot(ctx context.Context, job any) error
	LoadJobSnapshot(ctx context.Context, dest any) error
	AllowSubmit(ctx context.Context, address string, limit int64, window time.Duration) bool
	GetPoolStats(ctx context.Context) (*database.PoolStats, error)
	ConnectionOpened(ctx context.Context, remoteAddr string)
	ConnectionClosed(ctx context.Context, remoteAddr string)
	StartPeriodicTasks(ctx context.Context, counters database.PoolCounters)
	Close() error
}

// EventPublisher is the event stream surface the server needs.
// *messaging.KafkaClient implements it.
type EventPublisher interface {
	PublishShare(ctx context.Context, event *messaging.ShareEvent) error
	PublishBlock(ctx context.Context, event *messaging.BlockEvent) error
	PublishPoolStats(ctx context.Context, event *messaging.PoolStatsEvent) error
	Close() error
}

// Server accepts miner connections over TCP and WebSocket and drives the
// job, validation and difficulty machinery behind them.
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	node      bitcoin.NodeRPC
	notifier  bitcoin.BlockNotifier
	registry  *jobs.Registry
	builder   *jobs.Builder
	validator *validation.Validator
	diff      *vardiff.Controller
	db        Persistence
	kafka     EventPublisher
	nonces    *nonceRegistry

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader

	sessions   map[string]*stratum.Session
	mu         sync.RWMutex
	wg         sync.WaitGroup
	sessionSeq atomic.Uint64

	template   *btcjson.GetBlockTemplateResult
	templateMu sync.RWMutex

	// poolNonce anchors the shared broadcast job in the registry.
	poolNonce string
}

// NewServer wires a server around the mining pipeline.
func NewServer(
	cfg *config.Config,
	logger *log.Logger,
	node bitcoin.NodeRPC,
	notifier bitcoin.BlockNotifier,
	registry *jobs.Registry,
	builder *jobs.Builder,
	validator *validation.Validator,
	diff *vardiff.Controller,
	db Persistence,
	kafka EventPublisher,
) *Server {
	nonces := newNonceRegistry()
	return &Server{
		cfg:       cfg,
		logger:    logger.WithComponent("server"),
		node:      node,
		notifier:  notifier,
		registry:  registry,
		builder:   builder,
		validator: validator,
		diff:      diff,
		db:        db,
		kafka:     kafka,
		nonces:    nonces,
		sessions:  make(map[string]*stratum.Session),
		poolNonce: nonces.Allocate(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start runs the server until the context is cancelled. It blocks on the
// TCP accept loop; the WebSocket listener and background tickers run in
// their own goroutines.
func (s *Server) Start(ctx context.Context) error {
	if err := s.refreshTemplate(ctx); err != nil {
		s.logger.WithError(err).Warn("initial template fetch failed, serving fallback jobs")
		s.restoreJobSnapshot(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.ListenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info("stratum TCP listening", "address", addr)

	s.startWebSocket(ctx)
	s.startTickers(ctx)
	s.startBlockListener(ctx)
	s.db.StartPeriodicTasks(ctx, func() (int, uint64, uint64) {
		return s.registry.Len(), s.validator.Accepted(), s.validator.Rejected()
	})

	// Accept connections
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.WithError(err).Error("failed to accept connection")
				continue
			}
		}

		if s.sessionCount() >= s.cfg.MaxConnections {
			s.logger.Warn("connection limit reached, dropping connection",
				"remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, stratum.NewTCPConn(conn))
		}()
	}
}

// startWebSocket serves the same stratum handler over WebSocket frames.
func (s *Server) startWebSocket(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, func(w http.ResponseWriter, r *http.Request) {
		if s.sessionCount() >= s.cfg.MaxConnections {
			http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
			return
		}
		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Error("websocket upgrade failed")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, stratum.NewWSConn(wsConn))
		}()
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.WSListenAddr, s.cfg.WSListenPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("stratum WebSocket listening",
			"address", s.httpServer.Addr, "path", s.cfg.WSPath)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("websocket server failed")
		}
	}()
}

// serveConn runs one miner session to completion.
func (s *Server) serveConn(ctx context.Context, conn stratum.Conn) {
	sessionID := fmt.Sprintf("session_%d", s.sessionSeq.Add(1))

	session := stratum.NewSession(
		sessionID,
		conn,
		s.logger,
		s.cfg.ReadTimeout,
		s.cfg.WriteTimeout,
		s.releaseSession,
	)

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.logger.LogConnection("connected", session.RemoteAddr())
	s.db.ConnectionOpened(ctx, session.RemoteAddr())

	handler := NewMessageHandler(s.cfg, s.logger, s)
	if err := session.Start(ctx, handler); err != nil && err != context.Canceled {
		s.logger.WithError(err).Error("session failed", "session_id", sessionID)
	}
	session.Close()
}

// releaseSession reclaims everything a disconnecting session held.
func (s *Server) releaseSession(session *stratum.Session) {
	s.mu.Lock()
	delete(s.sessions, session.ID())
	s.mu.Unlock()

	if en1 := session.ExtraNonce1(); en1 != "" {
		s.nonces.Release(en1)
	}

	// Drop the session's personal job so its nonce state is reclaimed.
	if jobID := session.JobID(); jobID != "" {
		if job, ok := s.registry.Get(jobID); ok && job.Owner == session.Address() {
			s.registry.Remove(jobID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.db.ConnectionClosed(ctx, session.RemoteAddr())
	s.logger.LogConnection("disconnected", session.RemoteAddr())
}

func (s *Server) sessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// startTickers drives job broadcast, stale cleanup and difficulty
// recomputation.
func (s *Server) startTickers(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		broadcast := time.NewTicker(s.cfg.JobBroadcastInterval)
		cleanup := time.NewTicker(s.cfg.CleanupInterval)
		retarget := time.NewTicker(s.cfg.VardiffInterval)
		stats := time.NewTicker(time.Minute)
		defer broadcast.Stop()
		defer cleanup.Stop()
		defer retarget.Stop()
		defer stats.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-broadcast.C:
				if err := s.refreshTemplate(ctx); err != nil {
					s.logger.WithError(err).Warn("template refresh failed, reusing last template")
				}
				s.broadcastJobs(false)
			case <-cleanup.C:
				if evicted := s.registry.CleanupOlderThan(s.cfg.JobMaxAge); evicted > 0 {
					s.logger.Info("evicted stale jobs", "count", evicted)
				}
			case <-retarget.C:
				s.diff.Apply(s.broadcastDifficulty)
			case <-stats.C:
				s.publishPoolStats(ctx)
			}
		}
	}()
}

// startBlockListener refreshes the template the moment the node announces a
// new chain tip.
func (s *Server) startBlockListener(ctx context.Context) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.notifier.Subscribe("hashblock"); err != nil {
			s.logger.WithError(err).Error("ZMQ subscribe failed")
			return
		}
		if err := s.notifier.Connect(); err != nil {
			s.logger.WithError(err).Error("ZMQ connect failed")
			return
		}

		err := s.notifier.Listen(ctx, func(topic string, data []byte) error {
			hash, err := bitcoin.DecodeHashBlock(data)
			if err != nil {
				return err
			}
			s.logger.Info("new block notification", "block_hash", hash)
			if err := s.refreshTemplate(ctx); err != nil {
				s.logger.WithError(err).Warn("template refresh after new block failed")
				return nil
			}
			// Work built on the old tip is worthless now.
			s.broadcastJobs(true)
			return nil
		})
		if err != nil && err != context.Canceled {
			s.logger.WithError(err).Error("ZMQ listener stopped")
		}
	}()
}

// refreshTemplate pulls a fresh block template from the node.
func (s *Server) refreshTemplate(ctx context.Context) error {
	tmplCtx, cancel := context.WithTimeout(ctx, s.cfg.NodeTimeout)
	defer cancel()

	template, err := s.node.GetBlockTemplate(tmplCtx)
	if err != nil {
		return err
	}

	s.templateMu.Lock()
	s.template = template
	s.templateMu.Unlock()

	s.logger.Info("block template refreshed",
		"height", template.Height, "transactions", len(template.Transactions))
	return nil
}

func (s *Server) currentTemplate() *btcjson.GetBlockTemplateResult {
	s.templateMu.RLock()
	defer s.templateMu.RUnlock()
	return s.template
}

// restoreJobSnapshot rebuilds the broadcast job saved by a previous run so
// miners get work while the node is still unreachable. The snapshot template
// is stale by definition; the next successful refresh supersedes it.
func (s *Server) restoreJobSnapshot(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var snap jobs.Job
	if err := s.db.LoadJobSnapshot(loadCtx, &snap); err != nil || snap.Template == nil {
		return
	}

	job, err := s.builder.BuildJob(snap.Template, jobs.BroadcastOwner, snap.PayoutAddr, s.poolNonce, true)
	if err != nil {
		s.logger.WithError(err).Warn("failed to rebuild snapshot job")
		return
	}
	s.registry.Add(job)

	s.templateMu.Lock()
	if s.template == nil {
		s.template = snap.Template
	}
	s.templateMu.Unlock()

	s.logger.Info("restored broadcast job from snapshot", "height", snap.Template.Height)
}

// publishPoolStats snapshots pool-wide statistics and emits them on the
// event stream.
func (s *Server) publishPoolStats(ctx context.Context) {
	statsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := s.db.GetPoolStats(statsCtx)
	if err != nil {
		s.logger.WithError(err).Warn("pool stats snapshot failed")
		return
	}

	event := &messaging.PoolStatsEvent{
		ActiveConnections: stats.ActiveConnections,
		ActiveJobs:        s.registry.Len(),
		SharesAccepted:    s.validator.Accepted(),
		SharesRejected:    s.validator.Rejected(),
		Timestamp:         time.Now(),
	}
	if err := s.kafka.PublishPoolStats(statsCtx, event); err != nil {
		s.logger.WithError(err).Warn("pool stats publish failed")
	}
}

// broadcastJobs builds and pushes a personal job to every working session,
// plus a shared broadcast job anchoring the registry fallback.
func (s *Server) broadcastJobs(cleanJobs bool) {
	template := s.currentTemplate()
	if template == nil {
		return
	}

	if s.cfg.FallbackPayoutAddress != "" {
		shared, err := s.builder.BuildJob(template, jobs.BroadcastOwner, s.cfg.FallbackPayoutAddress, s.poolNonce, cleanJobs)
		if err != nil {
			s.logger.WithError(err).Error("failed to build broadcast job")
		} else {
			s.registry.Add(shared)
			snapCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := s.db.SaveJobSnapshot(snapCtx, shared); err != nil {
				s.logger.WithError(err).Warn("failed to save job snapshot")
			}
			cancel()
		}
	}

	s.mu.RLock()
	working := make([]*stratum.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.IsSubscribed() && session.IsAuthorized() {
			working = append(working, session)
		}
	}
	s.mu.RUnlock()

	if len(working) == 0 {
		return
	}

	for _, session := range working {
		s.sendPersonalJob(session, template, cleanJobs)
	}

	s.logger.LogJobDistribution("", template.Height, cleanJobs, len(working))
}

// sendPersonalJob builds a session-specific job paying the session's own
// address and notifies the miner.
func (s *Server) sendPersonalJob(session *stratum.Session, template *btcjson.GetBlockTemplateResult, cleanJobs bool) {
	job, err := s.builder.BuildJob(template, session.Address(), session.Address(), session.ExtraNonce1(), cleanJobs)
	if err != nil {
		s.logger.WithError(err).Error("failed to build job",
			"miner_address", session.Address(), "session_id", session.ID())
		return
	}

	s.registry.Add(job)
	session.SetJobID(job.ID)

	if err := session.SendNotification(stratum.MethodNotify, job.NotifyParams()); err != nil {
		s.logger.WithError(err).Error("failed to send job",
			"session_id", session.ID(), "job_id", job.ID)
	}
}

// broadcastDifficulty fans a new pool difficulty out to every session.
func (s *Server) broadcastDifficulty(difficulty float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.Info("pool difficulty adjusted",
		"difficulty", difficulty, "sessions", len(s.sessions))

	for _, session := range s.sessions {
		if !session.IsSubscribed() {
			continue
		}
		session.SetDifficulty(difficulty)
		if err := session.SendNotification(stratum.MethodSetDifficulty, []any{difficulty}); err != nil {
			s.logger.WithError(err).Error("failed to send difficulty",
				"session_id", session.ID())
		}
	}
}

// submitCandidate assembles the full block for an accepted block candidate
// and submits it to the node, then records the result.
func (s *Server) submitCandidate(ctx context.Context, job *jobs.Job, sub validation.Submission, verdict validation.Verdict) {
	blockHash := verdict.HeaderHash.String()
	logger := s.logger.WithJob(job.ID, job.Template.Height)

	coinbase, coinbaseHash, err := s.builder.Assembler().BuildCoinbase(job.Template, job.PayoutAddr, job.ExtraNonce1, sub.ExtraNonce2)
	if err != nil {
		logger.WithError(err).Error("failed to rebuild coinbase for block submission")
		return
	}

	root := bitcoin.RootFromBranch(coinbaseHash, job.BranchHashes())
	header, err := bitcoin.BuildHeader(job.Template, root, sub.NTime, sub.Nonce)
	if err != nil {
		logger.WithError(err).Error("failed to build header for block submission")
		return
	}

	txs, err := bitcoin.TemplateTxData(job.Template)
	if err != nil {
		logger.WithError(err).Error("failed to decode template transactions")
		return
	}

	blockBytes, err := bitcoin.AssembleBlock(header, coinbase, txs)
	if err != nil {
		logger.WithError(err).Error("failed to assemble block")
		return
	}

	var reward int64
	if job.Template.CoinbaseValue != nil {
		reward = *job.Template.CoinbaseValue
	}

	// Record the candidate before submitting so a crash mid-submission
	// still leaves a trace to reconcile against the chain.
	block := &postgres.Block{
		Height:       job.Template.Height,
		Hash:         blockHash,
		PrevHash:     job.Template.PreviousHash,
		MinerAddress: sub.MinerAddress,
		Worker:       sub.WorkerName,
		Nonce:        sub.Nonce,
		Difficulty:   sub.Difficulty,
		Reward:       reward,
		Status:       "pending",
		FoundAt:      time.Now(),
	}
	if err := s.db.RecordBlock(ctx, block); err != nil {
		logger.WithError(err).Error("failed to persist block", "block_hash", blockHash)
	}

	status := "accepted"
	errorMessage := ""
	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.NodeTimeout)
	if err := s.node.SubmitBlock(submitCtx, hex.EncodeToString(blockBytes)); err != nil {
		status = "rejected"
		errorMessage = err.Error()
		logger.WithError(err).Error("block submission rejected", "block_hash", blockHash)
	} else {
		s.logger.LogBlockFound(blockHash, job.Template.Height, sub.MinerAddress, sub.WorkerName, sub.Difficulty)
	}
	cancel()

	if block.ID != 0 {
		if err := s.db.UpdateBlockStatus(ctx, block.ID, status, 0); err != nil {
			logger.WithError(err).Error("failed to update block status", "block_hash", blockHash)
		}
	}

	event := &messaging.BlockEvent{
		JobID:        job.ID,
		BlockHash:    blockHash,
		BlockHeight:  job.Template.Height,
		PrevHash:     job.Template.PreviousHash,
		MinerAddress: sub.MinerAddress,
		WorkerName:   sub.WorkerName,
		Nonce:        sub.Nonce,
		Difficulty:   sub.Difficulty,
		Reward:       reward,
		Status:       status,
		ErrorMessage: errorMessage,
		FoundAt:      block.FoundAt,
	}
	if err := s.kafka.PublishBlock(ctx, event); err != nil {
		logger.WithError(err).Error("failed to publish block event")
	}
}

// persistShare stores an accepted or rejected share and publishes the share
// event. It runs off the submit path; failures never reverse an ack.
func (s *Server) persistShare(session *stratum.Session, sub validation.Submission, verdict validation.Verdict) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hash := ""
	if verdict.Accepted {
		hash = verdict.HeaderHash.String()
	}

	var height int64
	if job, ok := s.registry.Get(sub.JobID); ok {
		height = job.Template.Height
	}

	share := &postgres.Share{
		MinerAddress:     sub.MinerAddress,
		Worker:           sub.WorkerName,
		JobID:            sub.JobID,
		BlockHeight:      height,
		Difficulty:       sub.Difficulty,
		IsValid:          verdict.Accepted,
		IsBlockCandidate: verdict.BlockCandidate,
		Hash:             hash,
		Nonce:            sub.Nonce,
		ExtraNonce2:      sub.ExtraNonce2,
		Ntime:            sub.NTime,
		SubmittedAt:      time.Now(),
	}
	if err := s.db.RecordShare(ctx, share); err != nil {
		s.logger.WithError(err).Error("failed to persist share",
			"miner_address", sub.MinerAddress, "job_id", sub.JobID)
	}

	event := &messaging.ShareEvent{
		JobID:            sub.JobID,
		MinerAddress:     sub.MinerAddress,
		WorkerName:       sub.WorkerName,
		ExtraNonce2:      sub.ExtraNonce2,
		Ntime:            sub.NTime,
		Nonce:            sub.Nonce,
		Difficulty:       sub.Difficulty,
		BlockHeight:      height,
		Accepted:         verdict.Accepted,
		IsBlockCandidate: verdict.BlockCandidate,
		HeaderHash:       hash,
		SessionID:        session.ID(),
		RemoteAddr:       session.RemoteAddr(),
		SubmittedAt:      share.SubmittedAt,
	}
	if !verdict.Accepted {
		event.RejectReason = verdict.Reason.Message()
	}
	if err := s.kafka.PublishShare(ctx, event); err != nil {
		s.logger.WithError(err).Error("failed to publish share event",
			"miner_address", sub.MinerAddress, "job_id", sub.JobID)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.WithError(err).Error("failed to close listener")
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("failed to shut down websocket server")
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			s.logger.WithError(err).Error("failed to close ZMQ notifier")
		}
	}

	// Close all sessions
	s.mu.RLock()
	open := make([]*stratum.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		open = append(open, session)
	}
	s.mu.RUnlock()
	for _, session := range open {
		session.Close()
	}

	if err := s.kafka.Close(); err != nil {
		s.logger.WithError(err).Error("failed to close Kafka client")
	}

	if err := s.db.Close(); err != nil {
		s.logger.WithError(err).Error("failed to close database manager")
	}

	// Wait for all connections to close
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all connections closed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded")
		return ctx.Err()
	}
}
