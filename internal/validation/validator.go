// Package validation decides whether submitted shares are acceptable and
// whether they solve the current block.
package validation

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/solomine/bchpool/internal/bitcoin"
	"github.com/solomine/bchpool/internal/jobs"
	"github.com/solomine/bchpool/pkg/log"
)

// maxTimeSkew bounds how far a submitted ntime may drift from wall clock,
// inclusive on both ends.
const maxTimeSkew = 7200 * time.Second

// JobSource resolves submitted job ids. *jobs.Registry satisfies it.
type JobSource interface {
	Get(id string) (*jobs.Job, bool)
}

// Validator runs the ordered share checks and tracks nonce uniqueness.
type Validator struct {
	jobs            JobSource
	assembler       *bitcoin.Assembler
	extraNonce2Size int
	nonces          *nonceTracker
	logger          *log.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewValidator returns a Validator resolving jobs from source and bounding
// per-job nonce memory at noncesPerJobCap entries.
func NewValidator(source JobSource, assembler *bitcoin.Assembler, extraNonce2Size, noncesPerJobCap int, logger *log.Logger) *Validator {
	return &Validator{
		jobs:            source,
		assembler:       assembler,
		extraNonce2Size: extraNonce2Size,
		nonces:          newNonceTracker(noncesPerJobCap),
		logger:          logger.WithComponent("validator"),
	}
}

// ReleaseJob drops the nonce state of a removed job. Wire it as the job
// registry's removal callback.
func (v *Validator) ReleaseJob(jobID string) {
	v.nonces.release(jobID)
}

// Accepted returns the number of shares accepted since startup.
func (v *Validator) Accepted() uint64 {
	return v.accepted.Load()
}

// Rejected returns the number of shares rejected since startup.
func (v *Validator) Rejected() uint64 {
	return v.rejected.Load()
}

// Validate runs the checks in order, short-circuiting on the first failure:
// job lookup, field widths, ntime window, nonce uniqueness, proof-of-work
// recomputation, difficulty target.
func (v *Validator) Validate(ctx context.Context, sub Submission) Verdict {
	if err := ctx.Err(); err != nil {
		return v.reject(sub, internalError(err.Error()))
	}

	job, ok := v.jobs.Get(sub.JobID)
	if !ok {
		return v.reject(sub, jobNotFound(sub.JobID))
	}

	if reason, ok := v.checkFormat(sub); !ok {
		return v.reject(sub, reason)
	}

	if !v.checkTime(time.Now(), sub.NTime) {
		return v.reject(sub, RejectReason{Kind: ReasonStaleTime})
	}

	if !v.nonces.observe(sub.JobID, sub.Nonce) {
		return v.reject(sub, RejectReason{Kind: ReasonDuplicateNonce})
	}

	_, coinbaseHash, err := v.assembler.BuildCoinbase(job.Template, job.PayoutAddr, job.ExtraNonce1, sub.ExtraNonce2)
	if err != nil {
		return v.reject(sub, internalError("coinbase rebuild: "+err.Error()))
	}
	merkleRoot := bitcoin.RootFromBranch(coinbaseHash, job.BranchHashes())

	headerHash, err := bitcoin.HeaderHash(job.Template, merkleRoot, sub.NTime, sub.Nonce)
	if err != nil {
		return v.reject(sub, internalError("header rebuild: "+err.Error()))
	}

	if !bitcoin.HashMeetsTarget(headerHash, bitcoin.DifficultyToTarget(sub.Difficulty)) {
		return v.reject(sub, RejectReason{Kind: ReasonBelowTarget})
	}

	v.accepted.Add(1)

	verdict := Verdict{Accepted: true, HeaderHash: headerHash}
	if networkTarget, err := bitcoin.NetworkTarget(job.Template); err == nil {
		verdict.BlockCandidate = bitcoin.HashMeetsTarget(headerHash, networkTarget)
	}

	v.logger.LogShareSubmission(sub.MinerAddress, sub.WorkerName, sub.JobID, sub.Difficulty, "accepted")
	return verdict
}

func (v *Validator) checkFormat(sub Submission) (RejectReason, bool) {
	if len(sub.ExtraNonce2) != 2*v.extraNonce2Size || !isHex(sub.ExtraNonce2) {
		return invalidFormat("extranonce2"), false
	}
	if len(sub.NTime) != 8 || !isHex(sub.NTime) {
		return invalidFormat("ntime"), false
	}
	if len(sub.Nonce) != 8 || !isHex(sub.Nonce) {
		return invalidFormat("nonce"), false
	}
	return RejectReason{}, true
}

// checkTime accepts ntime within the skew window around now, boundary
// values included. Comparison is in whole seconds, matching the field's
// resolution.
func (v *Validator) checkTime(now time.Time, ntime string) bool {
	t, err := strconv.ParseUint(ntime, 16, 32)
	if err != nil {
		return false
	}
	skew := now.Unix() - int64(t)
	if skew < 0 {
		skew = -skew
	}
	return skew <= int64(maxTimeSkew/time.Second)
}

func (v *Validator) reject(sub Submission, reason RejectReason) Verdict {
	v.rejected.Add(1)
	v.logger.LogShareSubmission(sub.MinerAddress, sub.WorkerName, sub.JobID, sub.Difficulty, "rejected")
	return rejected(reason)
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil && len(s)%2 == 0
}
