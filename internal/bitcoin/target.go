package bitcoin

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// diff1Target is the canonical difficulty-1 target,
// 0x00000000FFFF0000000000000000000000000000000000000000000000000000.
var diff1Target = func() *big.Int {
	t, _ := new(big.Int).SetString("00000000ffff0000000000000000000000000000000000000000000000000000", 16)
	return t
}()

// DifficultyToTarget converts a pool difficulty to the maximum acceptable
// header hash value. Non-positive difficulty yields the difficulty-1 target.
func DifficultyToTarget(difficulty float64) *big.Int {
	if difficulty <= 0 {
		return new(big.Int).Set(diff1Target)
	}

	// big.Float division keeps fractional share difficulties exact enough
	// before truncating back to an integer target.
	target, _ := new(big.Float).Quo(
		new(big.Float).SetInt(diff1Target),
		big.NewFloat(difficulty),
	).Int(nil)

	if target.Cmp(diff1Target) > 0 {
		return new(big.Int).Set(diff1Target)
	}
	return target
}

// NetworkTarget parses the template's network target.
func NetworkTarget(t *btcjson.GetBlockTemplateResult) (*big.Int, error) {
	if len(t.Target) == 0 || len(t.Target) > 64 {
		return nil, fmt.Errorf("template target %q has invalid length", t.Target)
	}
	target, ok := new(big.Int).SetString(t.Target, 16)
	if !ok {
		return nil, fmt.Errorf("template target %q is not hex", t.Target)
	}
	return target, nil
}

// HashToBig interprets a header hash as the big-endian integer compared
// against targets. chainhash stores hashes little-endian, so the bytes are
// reversed first.
func HashToBig(hash chainhash.Hash) *big.Int {
	var be [32]byte
	for i := range be {
		be[i] = hash[31-i]
	}
	return new(big.Int).SetBytes(be[:])
}

// HashMeetsTarget reports whether the hash value is at or below the target.
func HashMeetsTarget(hash chainhash.Hash, target *big.Int) bool {
	return HashToBig(hash).Cmp(target) <= 0
}

// CheckSolution recomputes the header for the given merkle root, time and
// nonce, and reports whether its hash satisfies the given difficulty.
func CheckSolution(t *btcjson.GetBlockTemplateResult, merkleRoot chainhash.Hash, ntime, nonce string, difficulty float64) (bool, error) {
	hash, err := HeaderHash(t, merkleRoot, ntime, nonce)
	if err != nil {
		return false, err
	}
	return HashMeetsTarget(hash, DifficultyToTarget(difficulty)), nil
}
