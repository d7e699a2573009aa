package messaging

import "time"

// ShareEvent is published for every share submission, accepted or not.
type ShareEvent struct {
	JobID            string    `json:"job_id"`
	MinerAddress     string    `json:"miner_address"`
	WorkerName       string    `json:"worker_name"`
	ExtraNonce2      string    `json:"extra_nonce2"`
	Ntime            string    `json:"ntime"`
	Nonce            string    `json:"nonce"`
	Difficulty       float64   `json:"difficulty"`
	BlockHeight      int64     `json:"block_height"`
	Accepted         bool      `json:"accepted"`
	RejectReason     string    `json:"reject_reason,omitempty"`
	IsBlockCandidate bool      `json:"is_block_candidate"`
	HeaderHash       string    `json:"header_hash,omitempty"`
	SessionID        string    `json:"session_id"`
	RemoteAddr       string    `json:"remote_addr"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// BlockEvent is published when a block candidate is submitted to the node.
type BlockEvent struct {
	JobID        string    `json:"job_id"`
	BlockHash    string    `json:"block_hash"`
	BlockHeight  int64     `json:"block_height"`
	PrevHash     string    `json:"prev_hash"`
	MinerAddress string    `json:"miner_address"`
	WorkerName   string    `json:"worker_name"`
	Nonce        string    `json:"nonce"`
	Difficulty   float64   `json:"difficulty"`
	Reward       int64     `json:"reward"`
	Status       string    `json:"status"` // "accepted", "rejected", "duplicate"
	ErrorMessage string    `json:"error_message,omitempty"`
	FoundAt      time.Time `json:"found_at"`
}

// PoolStatsEvent is a periodic snapshot of pool-wide counters.
type PoolStatsEvent struct {
	ActiveConnections int64     `json:"active_connections"`
	ActiveJobs        int       `json:"active_jobs"`
	SharesAccepted    uint64    `json:"shares_accepted"`
	SharesRejected    uint64    `json:"shares_rejected"`
	Timestamp         time.Time `json:"timestamp"`
}
