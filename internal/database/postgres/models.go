package postgres

import (
	"time"
)

// Miner is one mining identity: a payout address plus a worker label. Solo
// miners register implicitly on their first successful authorize.
type Miner struct {
	ID         int64      `db:"id"`
	Address    string     `db:"address"`
	Worker     string     `db:"worker"`
	IsActive   bool       `db:"is_active"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	LastSeenAt *time.Time `db:"last_seen_at"`
}

// Share represents a submitted mining share
type Share struct {
	ID               int64     `db:"id"`
	MinerAddress     string    `db:"miner_address"`
	Worker           string    `db:"worker"`
	JobID            string    `db:"job_id"`
	BlockHeight      int64     `db:"block_height"`
	Difficulty       float64   `db:"difficulty"`
	IsValid          bool      `db:"is_valid"`
	IsBlockCandidate bool      `db:"is_block_candidate"`
	Hash             string    `db:"hash"`
	Nonce            string    `db:"nonce"`
	ExtraNonce2      string    `db:"extra_nonce2"`
	Ntime            string    `db:"ntime"`
	SubmittedAt      time.Time `db:"submitted_at"`
}

// Block represents a found block
type Block struct {
	ID            int64      `db:"id"`
	Height        int64      `db:"height"`
	Hash          string     `db:"hash"`
	PrevHash      string     `db:"prev_hash"`
	MinerAddress  string     `db:"miner_address"`
	Worker        string     `db:"worker"`
	Nonce         string     `db:"nonce"`
	Difficulty    float64    `db:"difficulty"`
	Reward        int64      `db:"reward"`
	Status        string     `db:"status"` // pending, confirmed, orphaned
	Confirmations int        `db:"confirmations"`
	FoundAt       time.Time  `db:"found_at"`
	ConfirmedAt   *time.Time `db:"confirmed_at"`
}
