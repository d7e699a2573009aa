package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/solomine/bchpool/internal/bitcoin"
)

// Builder converts block templates into stratum jobs.
type Builder struct {
	assembler       *bitcoin.Assembler
	extraNonce2Size int
}

// NewBuilder returns a Builder splitting coinbases around extranonce windows
// of the given size.
func NewBuilder(assembler *bitcoin.Assembler, extraNonce2Size int) *Builder {
	return &Builder{assembler: assembler, extraNonce2Size: extraNonce2Size}
}

// ExtraNonce2Size returns the configured extranonce2 width in bytes.
func (b *Builder) ExtraNonce2Size() int {
	return b.extraNonce2Size
}

// Assembler returns the coinbase assembler jobs are built with.
func (b *Builder) Assembler() *bitcoin.Assembler {
	return b.assembler
}

// BuildJob converts a template into a job paying payoutAddr, with the
// extranonce window reserved for the given session extranonce1.
func (b *Builder) BuildJob(t *btcjson.GetBlockTemplateResult, owner, payoutAddr, extraNonce1 string, cleanJobs bool) (*Job, error) {
	coinb1, coinb2, err := b.assembler.SplitCoinbase(t, payoutAddr, extraNonce1, b.extraNonce2Size)
	if err != nil {
		return nil, fmt.Errorf("split coinbase: %w", err)
	}

	hashes, err := bitcoin.TemplateTxHashes(t)
	if err != nil {
		return nil, fmt.Errorf("template hashes: %w", err)
	}
	branch := bitcoin.MerkleBranch(hashes, 0)
	branchHex := make([]string, len(branch))
	for i, h := range branch {
		branchHex[i] = h.String()
	}

	return &Job{
		ID:           NewJobID(owner),
		PrevHash:     t.PreviousHash,
		Coinb1:       coinb1,
		Coinb2:       coinb2,
		MerkleBranch: branchHex,
		Version:      fmt.Sprintf("%08x", uint32(t.Version)),
		NBits:        t.Bits,
		NTime:        fmt.Sprintf("%08x", uint32(t.CurTime)),
		CleanJobs:    cleanJobs,
		Template:     t,
		ExtraNonce1:  extraNonce1,
		PayoutAddr:   payoutAddr,
		Owner:        owner,
		CreatedAt:    time.Now(),
		branchHashes: branch,
	}, nil
}

// Synthetic builds a deterministic placeholder job from static defaults, for
// miners that connect before the first template arrives or while the node is
// unreachable. Work on it never produces a block; it keeps hardware busy
// until a real job is broadcast.
func (b *Builder) Synthetic(addr, extraNonce1 string) *Job {
	tmpl := syntheticTemplate()
	job, err := b.BuildJob(tmpl, addr, addr, extraNonce1, true)
	if err != nil {
		// The address authorized, so a split failure means the synthetic
		// template itself is at fault. Fall back to bare wire fields.
		return &Job{
			ID:          NewJobID(addr),
			PrevHash:    strings.Repeat("0", 64),
			Coinb1:      "",
			Coinb2:      "",
			Version:     "20000000",
			NBits:       tmpl.Bits,
			NTime:       fmt.Sprintf("%08x", uint32(time.Now().Unix())),
			CleanJobs:   true,
			Template:    tmpl,
			ExtraNonce1: extraNonce1,
			PayoutAddr:  addr,
			Owner:       addr,
			CreatedAt:   time.Now(),
			Synthetic:   true,
		}
	}
	job.Synthetic = true
	return job
}

func syntheticTemplate() *btcjson.GetBlockTemplateResult {
	value := int64(0)
	return &btcjson.GetBlockTemplateResult{
		Bits:          "1d00ffff",
		CurTime:       time.Now().Unix(),
		Height:        1,
		PreviousHash:  chainhash.Hash{}.String(),
		Target:        "00000000ffff0000000000000000000000000000000000000000000000000000",
		Version:       0x20000000,
		CoinbaseValue: &value,
	}
}
