// Package jobs maintains the table of active mining jobs handed to miners
// and converts node block templates into their stratum wire form.
package jobs

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BroadcastOwner marks a job addressed to every connected miner rather than
// a single address.
const BroadcastOwner = "broadcast"

// Job is one unit of work a miner can grind on. The wire fields mirror the
// mining.notify parameter list; Template keeps the originating snapshot so
// shares can be re-verified and blocks assembled without refetching.
type Job struct {
	ID           string
	PrevHash     string
	Coinb1       string
	Coinb2       string
	MerkleBranch []string
	Version      string
	NBits        string
	NTime        string
	CleanJobs    bool

	Template    *btcjson.GetBlockTemplateResult
	ExtraNonce1 string
	PayoutAddr  string
	Owner       string
	CreatedAt   time.Time

	// Synthetic marks a placeholder job built without a node template. Any
	// real job supersedes it.
	Synthetic bool

	branchHashes []chainhash.Hash
}

// BranchHashes returns the merkle branch in chainhash form for share
// re-verification.
func (j *Job) BranchHashes() []chainhash.Hash {
	return j.branchHashes
}

// NotifyParams renders the job as the mining.notify parameter array.
func (j *Job) NotifyParams() []any {
	branch := j.MerkleBranch
	if branch == nil {
		branch = []string{}
	}
	return []any{
		j.ID,
		j.PrevHash,
		j.Coinb1,
		j.Coinb2,
		branch,
		j.Version,
		j.NBits,
		j.NTime,
		j.CleanJobs,
	}
}

// jobCounter disambiguates ids minted within the same second.
var jobCounter atomic.Uint64

// NewJobID mints a unique job id for the given owner. The owner suffix is
// the tail of the miner address, or "broadcast" for shared jobs.
func NewJobID(owner string) string {
	suffix := BroadcastOwner
	if owner != "" && owner != BroadcastOwner {
		suffix = ownerSuffix(owner)
	}
	counter := jobCounter.Add(1)
	return fmt.Sprintf("job_%d_%08x_%s", time.Now().Unix(), counter&0xffffffff, suffix)
}

func ownerSuffix(addr string) string {
	// Strip any cashaddr prefix so the suffix stays short and readable.
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		addr = addr[i+1:]
	}
	if len(addr) > 8 {
		addr = addr[len(addr)-8:]
	}
	return addr
}
