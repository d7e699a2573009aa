package validation

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Submission carries the fields of a mining.submit call plus the session
// context the validator needs to judge it.
type Submission struct {
	JobID        string
	MinerAddress string
	WorkerName   string
	ExtraNonce2  string
	NTime        string
	Nonce        string
	Difficulty   float64
}

// ReasonKind classifies why a share was rejected.
type ReasonKind int

const (
	ReasonNone ReasonKind = iota
	ReasonJobNotFound
	ReasonInvalidFormat
	ReasonStaleTime
	ReasonDuplicateNonce
	ReasonBelowTarget
	ReasonInternalError
)

// RejectReason is a typed rejection with optional detail (the offending
// field for format errors, the failure for internal errors).
type RejectReason struct {
	Kind   ReasonKind
	Detail string
}

func jobNotFound(jobID string) RejectReason {
	return RejectReason{Kind: ReasonJobNotFound, Detail: jobID}
}

func invalidFormat(field string) RejectReason {
	return RejectReason{Kind: ReasonInvalidFormat, Detail: field}
}

func internalError(detail string) RejectReason {
	return RejectReason{Kind: ReasonInternalError, Detail: detail}
}

// Message renders the reason as the human-readable stratum error message.
func (r RejectReason) Message() string {
	switch r.Kind {
	case ReasonNone:
		return ""
	case ReasonJobNotFound:
		return fmt.Sprintf("Job %s not found", r.Detail)
	case ReasonInvalidFormat:
		return fmt.Sprintf("Invalid %s format", r.Detail)
	case ReasonStaleTime:
		return "Share time out of range"
	case ReasonDuplicateNonce:
		return "Duplicate share"
	case ReasonBelowTarget:
		return "Share difficulty too low"
	default:
		return fmt.Sprintf("Internal error: %s", r.Detail)
	}
}

// Code maps the reason onto the standard stratum error code space.
func (r RejectReason) Code() int {
	switch r.Kind {
	case ReasonJobNotFound:
		return 21
	case ReasonDuplicateNonce:
		return 22
	case ReasonBelowTarget:
		return 23
	default:
		return 20
	}
}

func (r RejectReason) String() string {
	return r.Message()
}

// Verdict is the outcome of validating one submission. BlockCandidate is
// set when the share's hash also satisfies the network target, meaning the
// block should be assembled and submitted to the node.
type Verdict struct {
	Accepted       bool
	Reason         RejectReason
	HeaderHash     chainhash.Hash
	BlockCandidate bool
}

func rejected(reason RejectReason) Verdict {
	return Verdict{Reason: reason}
}
