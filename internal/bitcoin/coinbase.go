package bitcoin

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/solomine/bchpool/internal/cashaddr"
)

// bufferPool reuses serialization buffers across coinbase and block builds.
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() < 10*1024*1024 {
		bufferPool.Put(buf)
	}
}

// Assembler builds coinbase transactions and stratum job splits for a
// configured pool identity.
type Assembler struct {
	tag             []byte
	maxScriptSigLen int
}

// NewAssembler returns an Assembler stamping coinbases with the given
// signature tag. scriptSig bytes beyond maxScriptSigLen are dropped.
func NewAssembler(tag string, maxScriptSigLen int) *Assembler {
	return &Assembler{tag: []byte(tag), maxScriptSigLen: maxScriptSigLen}
}

// buildScriptSig assembles the BIP 34 height push, the pool tag and both
// extranonce fragments, truncated to the configured maximum.
func (a *Assembler) buildScriptSig(height int64, extraNonce1, extraNonce2 []byte) ([]byte, error) {
	heightPush, err := txscript.NewScriptBuilder().AddInt64(height).Script()
	if err != nil {
		return nil, fmt.Errorf("height push: %w", err)
	}

	// Truncation may only eat into the tag; losing extranonce bytes would
	// desynchronize the coinb1/coinb2 split the miner reassembles around.
	tagBudget := a.maxScriptSigLen - len(heightPush) - len(extraNonce1) - len(extraNonce2)
	if tagBudget < 0 {
		return nil, fmt.Errorf("scriptSig budget %d too small for extranonce", a.maxScriptSigLen)
	}
	tag := a.tag
	if len(tag) > tagBudget {
		tag = tag[:tagBudget]
	}

	script := make([]byte, 0, len(heightPush)+len(tag)+len(extraNonce1)+len(extraNonce2))
	script = append(script, heightPush...)
	script = append(script, tag...)
	script = append(script, extraNonce1...)
	script = append(script, extraNonce2...)
	return script, nil
}

// p2pkhScript builds the standard 25-byte pay-to-pubkey-hash locking script.
func p2pkhScript(hash160 []byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, txscript.OP_DUP, txscript.OP_HASH160, txscript.OP_DATA_20)
	script = append(script, hash160...)
	return append(script, txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG)
}

// coinbaseValue is the block subsidy plus the fees of every candidate
// transaction in the template.
func coinbaseValue(t *btcjson.GetBlockTemplateResult) int64 {
	var value int64
	if t.CoinbaseValue != nil {
		value = *t.CoinbaseValue
	}
	for _, tx := range t.Transactions {
		value += tx.Fee
	}
	return value
}

// BuildCoinbase serializes the coinbase transaction paying the template's
// reward to payoutAddr, with both extranonce fragments embedded in the
// scriptSig. The payout address must resolve to a P2KH hash.
func (a *Assembler) BuildCoinbase(t *btcjson.GetBlockTemplateResult, payoutAddr, extraNonce1, extraNonce2 string) ([]byte, chainhash.Hash, error) {
	typ, hash160, err := cashaddr.Hash160(payoutAddr)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("payout address: %w", err)
	}
	if typ != cashaddr.P2KH {
		return nil, chainhash.Hash{}, fmt.Errorf("payout address %s is %s, want p2kh", payoutAddr, typ)
	}

	en1, err := hex.DecodeString(extraNonce1)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("extranonce1: %w", err)
	}
	en2, err := hex.DecodeString(extraNonce2)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("extranonce2: %w", err)
	}

	scriptSig, err := a.buildScriptSig(t.Height, en1, en2)
	if err != nil {
		return nil, chainhash.Hash{}, err
	}

	buf := getBuffer()
	defer putBuffer(buf)

	// Version and the single null-prevout input.
	binary.Write(buf, binary.LittleEndian, uint32(1))
	wire.WriteVarInt(buf, 0, 1)
	buf.Write(make([]byte, 32))
	binary.Write(buf, binary.LittleEndian, uint32(0xffffffff))
	wire.WriteVarInt(buf, 0, uint64(len(scriptSig)))
	buf.Write(scriptSig)
	binary.Write(buf, binary.LittleEndian, uint32(0xffffffff))

	// Single payout output.
	wire.WriteVarInt(buf, 0, 1)
	binary.Write(buf, binary.LittleEndian, uint64(coinbaseValue(t)))
	script := p2pkhScript(hash160)
	wire.WriteVarInt(buf, 0, uint64(len(script)))
	buf.Write(script)

	// Locktime.
	binary.Write(buf, binary.LittleEndian, uint32(0))

	raw := make([]byte, buf.Len())
	copy(raw, buf.Bytes())
	return raw, chainhash.DoubleHashH(raw), nil
}

// SplitCoinbase builds the coinbase with a zero placeholder extranonce2 and
// splits its serialization around the extranonce window, so a miner can
// reassemble coinb1 + extranonce1 + extranonce2 + coinb2.
func (a *Assembler) SplitCoinbase(t *btcjson.GetBlockTemplateResult, payoutAddr, extraNonce1 string, extraNonce2Size int) (string, string, error) {
	placeholder := hex.EncodeToString(make([]byte, extraNonce2Size))
	raw, _, err := a.BuildCoinbase(t, payoutAddr, extraNonce1, placeholder)
	if err != nil {
		return "", "", err
	}

	en1, err := hex.DecodeString(extraNonce1)
	if err != nil {
		return "", "", fmt.Errorf("extranonce1: %w", err)
	}
	idx := bytes.Index(raw, en1)
	if idx < 0 {
		return "", "", fmt.Errorf("extranonce1 marker not found in coinbase")
	}

	cut := idx + len(en1) + extraNonce2Size
	if cut > len(raw) {
		return "", "", fmt.Errorf("extranonce window exceeds coinbase length")
	}
	return hex.EncodeToString(raw[:idx]), hex.EncodeToString(raw[cut:]), nil
}
