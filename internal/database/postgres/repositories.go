package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMinerNotFound is returned when no miner row matches the address.
var ErrMinerNotFound = errors.New("miner not found")

// MinerRepository handles miner registration and lookup
type MinerRepository struct {
	db *sql.DB
}

// NewMinerRepository creates a new miner repository
func NewMinerRepository(db *sql.DB) *MinerRepository {
	return &MinerRepository{db: db}
}

// Register inserts the miner, or refreshes the existing row for the same
// address and worker. Registration is idempotent across reconnects.
func (r *MinerRepository) Register(ctx context.Context, address, worker string) (*Miner, error) {
	query := `
		INSERT INTO miners (address, worker, is_active, created_at, updated_at, last_seen_at)
		VALUES ($1, $2, TRUE, $3, $3, $3)
		ON CONFLICT (address, worker)
		DO UPDATE SET updated_at = $3, last_seen_at = $3
		RETURNING id, address, worker, is_active, created_at, updated_at, last_seen_at`

	now := time.Now()
	miner := &Miner{}
	err := r.db.QueryRowContext(ctx, query, address, worker, now).Scan(
		&miner.ID, &miner.Address, &miner.Worker, &miner.IsActive,
		&miner.CreatedAt, &miner.UpdatedAt, &miner.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register miner: %w", err)
	}
	return miner, nil
}

// GetByAddress retrieves the most recently seen miner row for an address.
func (r *MinerRepository) GetByAddress(ctx context.Context, address string) (*Miner, error) {
	query := `
		SELECT id, address, worker, is_active, created_at, updated_at, last_seen_at
		FROM miners
		WHERE address = $1
		ORDER BY last_seen_at DESC NULLS LAST
		LIMIT 1`

	miner := &Miner{}
	err := r.db.QueryRowContext(ctx, query, address).Scan(
		&miner.ID, &miner.Address, &miner.Worker, &miner.IsActive,
		&miner.CreatedAt, &miner.UpdatedAt, &miner.LastSeenAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMinerNotFound
		}
		return nil, fmt.Errorf("failed to get miner: %w", err)
	}
	return miner, nil
}

// TouchLastSeen updates the miner's last seen timestamp
func (r *MinerRepository) TouchLastSeen(ctx context.Context, minerID int64) error {
	query := `UPDATE miners SET last_seen_at = $1, updated_at = $1 WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, time.Now(), minerID)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// ShareRepository handles share-related database operations
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare creates a new share record
func (r *ShareRepository) CreateShare(ctx context.Context, share *Share) error {
	query := `
		INSERT INTO shares (miner_address, worker, job_id, block_height, difficulty,
		                    is_valid, is_block_candidate, hash, nonce, extra_nonce2, ntime, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.MinerAddress, share.Worker, share.JobID, share.BlockHeight,
		share.Difficulty, share.IsValid, share.IsBlockCandidate,
		share.Hash, share.Nonce, share.ExtraNonce2, share.Ntime, share.SubmittedAt,
	).Scan(&share.ID)

	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

// CountSharesSince counts valid shares for an address after the cutoff.
func (r *ShareRepository) CountSharesSince(ctx context.Context, address string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM shares WHERE miner_address = $1 AND is_valid AND submitted_at >= $2`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, address, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count shares: %w", err)
	}
	return count, nil
}

// BlockRepository handles block-related database operations
type BlockRepository struct {
	db *sql.DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// CreateBlock creates a new block record
func (r *BlockRepository) CreateBlock(ctx context.Context, block *Block) error {
	query := `
		INSERT INTO blocks (height, hash, prev_hash, miner_address, worker, nonce,
		                    difficulty, reward, status, confirmations, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		block.Height, block.Hash, block.PrevHash, block.MinerAddress, block.Worker,
		block.Nonce, block.Difficulty, block.Reward, block.Status,
		block.Confirmations, block.FoundAt,
	).Scan(&block.ID)

	if err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}
	return nil
}

// UpdateBlockStatus updates the status and confirmations of a block
func (r *BlockRepository) UpdateBlockStatus(ctx context.Context, blockID int64, status string, confirmations int) error {
	query := `UPDATE blocks SET status = $1, confirmations = $2`
	args := []any{status, confirmations}

	if status == "confirmed" {
		query += `, confirmed_at = $3`
		args = append(args, time.Now())
	}

	query += ` WHERE id = $` + fmt.Sprintf("%d", len(args)+1)
	args = append(args, blockID)

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update block status: %w", err)
	}
	return nil
}

// GetRecentBlocks retrieves recent blocks with pagination
func (r *BlockRepository) GetRecentBlocks(ctx context.Context, limit, offset int) ([]*Block, error) {
	query := `
		SELECT id, height, hash, prev_hash, miner_address, worker, nonce,
		       difficulty, reward, status, confirmations, found_at, confirmed_at
		FROM blocks
		ORDER BY found_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var blocks []*Block
	for rows.Next() {
		block := &Block{}
		err := rows.Scan(
			&block.ID, &block.Height, &block.Hash, &block.PrevHash,
			&block.MinerAddress, &block.Worker, &block.Nonce, &block.Difficulty,
			&block.Reward, &block.Status, &block.Confirmations,
			&block.FoundAt, &block.ConfirmedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}
	return blocks, nil
}
