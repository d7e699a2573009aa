package main

import (
	"context"
	"time"

	"github.com/solomine/bchpool/internal/cashaddr"
	"github.com/solomine/bchpool/internal/config"
	"github.com/solomine/bchpool/internal/stratum"
	"github.com/solomine/bchpool/internal/validation"
	"github.com/solomine/bchpool/pkg/log"
)

// MessageHandler implements the stratum.MessageHandler interface
type MessageHandler struct {
	cfg    *config.Config
	logger *log.Logger
	server *Server
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(cfg *config.Config, logger *log.Logger, server *Server) *MessageHandler {
	return &MessageHandler{
		cfg:    cfg,
		logger: logger.WithComponent("handler"),
		server: server,
	}
}

// HandleMessage handles incoming Stratum messages
func (h *MessageHandler) HandleMessage(ctx context.Context, session *stratum.Session, msg *stratum.Message) error {
	if msg.IsRequest() {
		return h.handleRequest(ctx, session, msg)
	}

	// Ignore responses and notifications from clients
	h.logger.Debug("ignoring non-request message", "method", msg.Method)
	return nil
}

// handleRequest handles request messages
func (h *MessageHandler) handleRequest(ctx context.Context, session *stratum.Session, msg *stratum.Message) error {
	switch msg.Method {
	case stratum.MethodSubscribe:
		return h.handleSubscribe(ctx, session, msg)
	case stratum.MethodAuthorize:
		return h.handleAuthorize(ctx, session, msg)
	case stratum.MethodSubmit:
		return h.handleSubmit(ctx, session, msg)
	case stratum.MethodGetTransactions:
		return h.handleGetTransactions(session, msg)
	default:
		h.logger.Warn("unknown method", "method", msg.Method)
		return session.SendError(msg.ID, stratum.ErrorMethodNotFound, "Method not found")
	}
}

// handleSubscribe handles mining.subscribe requests
func (h *MessageHandler) handleSubscribe(_ context.Context, session *stratum.Session, msg *stratum.Message) error {
	req, err := stratum.ParseSubscribeRequest(msg.Params)
	if err != nil {
		h.logger.WithError(err).Error("invalid subscribe request")
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "Invalid parameters")
	}

	h.logger.Info("miner subscribed",
		"user_agent", req.UserAgent,
		"session_id", session.ID(),
	)

	// Resubscribing keeps the existing extranonce.
	extraNonce1 := session.ExtraNonce1()
	if extraNonce1 == "" {
		extraNonce1 = h.server.nonces.Allocate()
		session.SetExtraNonce1(extraNonce1)
	}
	session.SetSubscribed(true)

	return session.SendResponse(msg.ID, []any{
		[]any{
			[]any{stratum.MethodSetDifficulty, session.ID()},
			[]any{stratum.MethodNotify, session.ID()},
		},
		extraNonce1,
		h.server.builder.ExtraNonce2Size(),
	})
}

// handleAuthorize handles mining.authorize requests
func (h *MessageHandler) handleAuthorize(ctx context.Context, session *stratum.Session, msg *stratum.Message) error {
	if !session.IsSubscribed() {
		return session.SendError(msg.ID, stratum.ErrorNotSubscribed, "Not subscribed")
	}

	req, err := stratum.ParseAuthorizeRequest(msg.Params)
	if err != nil {
		h.logger.WithError(err).Error("invalid authorize request")
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "Invalid parameters")
	}

	address, worker := stratum.ParseUsername(req.Username, "default")

	// The address must decode on the configured network and must be
	// spendable by the coinbase we build, so foreign-network addresses and
	// script hashes are turned away here rather than at job time.
	typ, _, err := cashaddr.Hash160ForNetwork(address, h.cfg.CashAddrPrefix())
	if err != nil {
		h.logger.WithError(err).Warn("authorize with unusable address", "username", req.Username)
		return session.SendError(msg.ID, stratum.ErrorUnauthorized, "Invalid address")
	}
	if typ != cashaddr.P2KH {
		return session.SendError(msg.ID, stratum.ErrorUnauthorized, "Address must be p2kh")
	}

	miner, err := h.server.db.RegisterMiner(ctx, address, worker)
	if err != nil {
		// A storage outage must not lock miners out of a solo pool.
		h.logger.WithError(err).Warn("miner registration failed, continuing",
			"miner_address", address, "worker", worker)
	} else if !miner.IsActive {
		return session.SendError(msg.ID, stratum.ErrorUnauthorized, "Miner is deactivated")
	} else {
		go func() {
			actCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hashrate, shares := h.server.db.MinerActivity(actCtx, address, worker)
			if shares > 0 {
				h.logger.WithMiner(address, worker).Info("returning miner",
					"hashrate_10m", hashrate, "shares_24h", shares)
			}
		}()
	}

	session.SetAddress(address)
	session.SetWorkerName(worker)
	session.SetAuthorized(true)

	h.logger.WithMiner(address, worker).Info("miner authorized", "session_id", session.ID())

	if err := session.SendResponse(msg.ID, true); err != nil {
		return err
	}

	// Push the working difficulty, then the first job.
	difficulty := h.server.diff.Current()
	session.SetDifficulty(difficulty)
	if err := session.SendNotification(stratum.MethodSetDifficulty, []any{difficulty}); err != nil {
		h.logger.WithError(err).Error("failed to send difficulty")
	}

	if template := h.server.currentTemplate(); template != nil {
		if job, err := h.server.builder.BuildJob(template, address, address, session.ExtraNonce1(), true); err != nil {
			h.logger.WithError(err).Error("failed to build job", "miner_address", address)
		} else {
			h.server.registry.Add(job)
		}
	}

	job := h.server.registry.ForMiner(address, session.ExtraNonce1())
	session.SetJobID(job.ID)
	return session.SendNotification(stratum.MethodNotify, job.NotifyParams())
}

// handleSubmit handles mining.submit requests
func (h *MessageHandler) handleSubmit(ctx context.Context, session *stratum.Session, msg *stratum.Message) error {
	if !session.IsAuthorized() {
		return session.SendError(msg.ID, stratum.ErrorUnauthorized, "Not authorized")
	}

	if h.cfg.SubmitRateLimit > 0 &&
		!h.server.db.AllowSubmit(ctx, session.Address(), int64(h.cfg.SubmitRateLimit), h.cfg.SubmitRateWindow) {
		return session.SendError(msg.ID, stratum.ErrorOther, "Rate limit exceeded")
	}

	req, err := stratum.ParseSubmitRequest(msg.Params)
	if err != nil {
		h.logger.WithError(err).Error("invalid submit request")
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "Invalid parameters")
	}

	sub := validation.Submission{
		JobID:        req.JobID,
		MinerAddress: session.Address(),
		WorkerName:   session.WorkerName(),
		ExtraNonce2:  req.ExtraNonce2,
		NTime:        req.NTime,
		Nonce:        req.Nonce,
		Difficulty:   session.Difficulty(),
	}

	verdict := h.server.validator.Validate(ctx, sub)

	// Persistence is off the ack path either way.
	go h.server.persistShare(session, sub, verdict)

	if !verdict.Accepted {
		return session.SendError(msg.ID, verdict.Reason.Code(), verdict.Reason.Message())
	}

	// Only accepted shares count toward the retarget window; rejects would
	// inflate the observed rate and punish a struggling miner.
	h.server.diff.Record(time.Now())

	if verdict.BlockCandidate {
		if job, ok := h.server.registry.Get(sub.JobID); ok {
			go func() {
				submitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				h.server.submitCandidate(submitCtx, job, sub, verdict)
			}()
		}
	}

	return session.SendResponse(msg.ID, true)
}

// handleGetTransactions handles mining.get_transactions requests. The pool
// never discloses template transactions, so the reply is an empty list.
func (h *MessageHandler) handleGetTransactions(session *stratum.Session, msg *stratum.Message) error {
	return session.SendResponse(msg.ID, []any{})
}
