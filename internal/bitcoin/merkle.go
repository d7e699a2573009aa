// Package bitcoin provides the chain-facing pieces of the pool: merkle tree
// computation, coinbase and block assembly, proof-of-work target math, and
// the RPC/ZMQ clients for the Bitcoin Cash node.
package bitcoin

import (
	"crypto/sha256"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// hashSlicePool reuses level slices for merkle computation. Merkle roots are
// recomputed for every submitted share, so this is a hot path.
var hashSlicePool = sync.Pool{
	New: func() any {
		return make([]chainhash.Hash, 0, 4096)
	},
}

func getHashSlice() []chainhash.Hash {
	return hashSlicePool.Get().([]chainhash.Hash)[:0]
}

func putHashSlice(s []chainhash.Hash) {
	if cap(s) < 1<<16 {
		hashSlicePool.Put(s)
	}
}

func hashPair(left, right chainhash.Hash) chainhash.Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	first := sha256.Sum256(buf[:])
	return chainhash.Hash(sha256.Sum256(first[:]))
}

// MerkleRoot computes the merkle root over the given transaction hashes.
// The empty list yields the zero hash; a single hash is its own root; at
// each level an odd tail element is paired with itself.
func MerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	level := getHashSlice()
	level = append(level, txHashes...)

	for len(level) > 1 {
		next := getHashSlice()
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		// Each slice is returned to the pool exactly once, when the next
		// level replaces it.
		putHashSlice(level)
		level = next
	}
	root := level[0]
	putHashSlice(level)
	return root
}

// MerkleBranch returns the sibling hashes needed to recompute the root from
// the leaf at index. For index 0 (the coinbase) the siblings never depend on
// the leaf itself, so a placeholder hash at position 0 is sufficient.
func MerkleBranch(txHashes []chainhash.Hash, index int) []chainhash.Hash {
	if len(txHashes) <= 1 || index < 0 || index >= len(txHashes) {
		return []chainhash.Hash{}
	}

	level := getHashSlice()
	level = append(level, txHashes...)

	var branch []chainhash.Hash
	for len(level) > 1 {
		sibling := index ^ 1
		if sibling >= len(level) {
			// Odd tail: the node is paired with itself.
			sibling = index
		}
		branch = append(branch, level[sibling])

		next := getHashSlice()
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		putHashSlice(level)
		level = next
		index /= 2
	}
	putHashSlice(level)
	return branch
}

// RootFromBranch folds the coinbase hash through a branch produced by
// MerkleBranch for index 0, hashing the running value on the left at each
// level.
func RootFromBranch(leaf chainhash.Hash, branch []chainhash.Hash) chainhash.Hash {
	acc := leaf
	for _, sibling := range branch {
		acc = hashPair(acc, sibling)
	}
	return acc
}
