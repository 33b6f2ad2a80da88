package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	Recipient string    `db:"recipient"`
	LastBlock uint64    `db:"last_block"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get retrieves the scan checkpoint for a recipient wallet.
func (r *CheckpointRepo) Get(ctx context.Context, recipient string) (*domain.ScanCheckpoint, error) {
	query := `
		SELECT recipient, last_block, updated_at
		FROM scan_checkpoints
		WHERE recipient = $1
	`
	var row checkpointRow
	err := r.db.GetContext(ctx, &row, query, recipient)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan checkpoint: %w", err)
	}
	return &domain.ScanCheckpoint{
		Recipient: row.Recipient,
		LastBlock: row.LastBlock,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Save upserts the checkpoint. The block number only moves forward; a
// slower concurrent scan can never rewind a newer one.
func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.ScanCheckpoint) error {
	query := `
		INSERT INTO scan_checkpoints (recipient, last_block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (recipient) DO UPDATE SET
			last_block = GREATEST(scan_checkpoints.last_block, EXCLUDED.last_block),
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, cp.Recipient, cp.LastBlock, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save scan checkpoint: %w", err)
	}
	return nil
}
