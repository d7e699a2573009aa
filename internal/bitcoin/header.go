package bitcoin

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderSize is the serialized length of a block header.
const HeaderSize = 80

// parseHexUint32 parses exactly eight hex digits as a big-endian value. This
// is the width stratum mandates for ntime, nonce and nbits fields.
func parseHexUint32(field, s string) (uint32, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("%s must be 8 hex digits, got %d", field, len(s))
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%s is not hex: %w", field, err)
	}
	return uint32(v), nil
}

// BuildHeader assembles the 80-byte block header for the template with the
// given merkle root and the miner-chosen time and nonce.
func BuildHeader(t *btcjson.GetBlockTemplateResult, merkleRoot chainhash.Hash, ntime, nonce string) ([]byte, error) {
	prev, err := chainhash.NewHashFromStr(t.PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("previous hash: %w", err)
	}
	bits, err := parseHexUint32("nbits", t.Bits)
	if err != nil {
		return nil, err
	}
	timeVal, err := parseHexUint32("ntime", ntime)
	if err != nil {
		return nil, err
	}
	nonceVal, err := parseHexUint32("nonce", nonce)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, HeaderSize)
	header = binary.LittleEndian.AppendUint32(header, uint32(t.Version))
	header = append(header, prev[:]...)
	header = append(header, merkleRoot[:]...)
	header = binary.LittleEndian.AppendUint32(header, timeVal)
	header = binary.LittleEndian.AppendUint32(header, bits)
	header = binary.LittleEndian.AppendUint32(header, nonceVal)
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("assembled header is %d bytes, want %d", len(header), HeaderSize)
	}
	return header, nil
}

// HeaderHash builds the header and returns its double-SHA256.
func HeaderHash(t *btcjson.GetBlockTemplateResult, merkleRoot chainhash.Hash, ntime, nonce string) (chainhash.Hash, error) {
	header, err := BuildHeader(t, merkleRoot, ntime, nonce)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(header), nil
}

// AssembleBlock serializes a full block: header, transaction count, the
// coinbase, then every other transaction in template order.
func AssembleBlock(header, coinbase []byte, txs [][]byte) ([]byte, error) {
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("header is %d bytes, want %d", len(header), HeaderSize)
	}

	buf := getBuffer()
	defer putBuffer(buf)

	buf.Write(header)
	wire.WriteVarInt(buf, 0, uint64(1+len(txs)))
	buf.Write(coinbase)
	for _, tx := range txs {
		buf.Write(tx)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// TemplateTxHashes converts the template's transaction hashes into hash
// values, leaving index 0 free for the coinbase.
func TemplateTxHashes(t *btcjson.GetBlockTemplateResult) ([]chainhash.Hash, error) {
	hashes := make([]chainhash.Hash, len(t.Transactions)+1)
	for i, tx := range t.Transactions {
		h, err := chainhash.NewHashFromStr(tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("transaction %d hash: %w", i, err)
		}
		hashes[i+1] = *h
	}
	return hashes, nil
}

// TemplateTxData decodes the raw bytes of every candidate transaction in
// template order.
func TemplateTxData(t *btcjson.GetBlockTemplateResult) ([][]byte, error) {
	txs := make([][]byte, len(t.Transactions))
	for i, tx := range t.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("transaction %d data: %w", i, err)
		}
		txs[i] = raw
	}
	return txs, nil
}
