package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// extraNonce1Size is the per-session extranonce width in bytes. Sixteen
// bytes leaves no realistic chance of two sessions colliding, but the
// registry still checks.
const extraNonce1Size = 16

// nonceRegistry hands out unique extranonce1 values and reclaims them when
// sessions disconnect.
type nonceRegistry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func newNonceRegistry() *nonceRegistry {
	return &nonceRegistry{used: make(map[string]struct{})}
}

// Allocate returns a fresh 32-hex-char extranonce1.
func (r *nonceRegistry) Allocate() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		buf := make([]byte, extraNonce1Size)
		if _, err := rand.Read(buf); err != nil {
			// The timestamp fallback keeps sessions serviceable if the
			// entropy source ever fails.
			copy(buf, fmt.Sprintf("%016x", time.Now().UnixNano()))
		}
		en1 := hex.EncodeToString(buf)
		if _, taken := r.used[en1]; !taken {
			r.used[en1] = struct{}{}
			return en1
		}
	}
}

// Release returns an extranonce1 to the pool.
func (r *nonceRegistry) Release(en1 string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.used, en1)
}

// Len reports how many extranonces are outstanding.
func (r *nonceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}
