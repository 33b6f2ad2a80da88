package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
)

// PaymentRepo implements storage.PaymentRepository using PostgreSQL.
type PaymentRepo struct {
	db *DB
}

// NewPaymentRepo creates a new PostgreSQL payment repository.
func NewPaymentRepo(db *DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

type paymentRow struct {
	ID          string    `db:"id"`
	ItemID      string    `db:"item_id"`
	PayerWallet string    `db:"payer_wallet"`
	TxHash      string    `db:"tx_hash"`
	Amount      string    `db:"amount"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *paymentRow) toDomain() (*domain.PaymentRecord, error) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q for payment %s", r.Amount, r.ID)
	}
	return &domain.PaymentRecord{
		ID:          r.ID,
		ItemID:      r.ItemID,
		PayerWallet: r.PayerWallet,
		TxHash:      r.TxHash,
		Amount:      amount,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// Insert saves a payment record. The unique index on tx_hash makes the
// insert atomic insert-or-reject: a conflicting row yields
// storage.ErrDuplicateTxHash and leaves the existing record untouched.
func (r *PaymentRepo) Insert(ctx context.Context, p *domain.PaymentRecord) error {
	query := `
		INSERT INTO payments (id, item_id, payer_wallet, tx_hash, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		p.ID, p.ItemID, p.PayerWallet, p.TxHash, p.Amount.String(), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return storage.ErrDuplicateTxHash
	}
	return nil
}

// GetByTxHash retrieves a payment by transaction hash.
func (r *PaymentRepo) GetByTxHash(ctx context.Context, txHash string) (*domain.PaymentRecord, error) {
	query := `
		SELECT id, item_id, payer_wallet, tx_hash, amount, created_at
		FROM payments
		WHERE tx_hash = $1
	`
	var row paymentRow
	err := r.db.GetContext(ctx, &row, query, txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return row.toDomain()
}

// ExistsByTxHash reports whether a record exists for the hash.
func (r *PaymentRepo) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE tx_hash = $1)`, txHash)
	if err != nil {
		return false, fmt.Errorf("failed to check payment existence: %w", err)
	}
	return exists, nil
}

// ListByPayer retrieves all payments made by a wallet, newest first.
func (r *PaymentRepo) ListByPayer(ctx context.Context, wallet string) ([]*domain.PaymentRecord, error) {
	query := `
		SELECT id, item_id, payer_wallet, tx_hash, amount, created_at
		FROM payments
		WHERE payer_wallet = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, wallet)
}

// ListByItem retrieves all payments for an item, newest first.
func (r *PaymentRepo) ListByItem(ctx context.Context, itemID string) ([]*domain.PaymentRecord, error) {
	query := `
		SELECT id, item_id, payer_wallet, tx_hash, amount, created_at
		FROM payments
		WHERE item_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, itemID)
}

func (r *PaymentRepo) list(ctx context.Context, query string, arg any) ([]*domain.PaymentRecord, error) {
	var rows []paymentRow
	if err := r.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	records := make([]*domain.PaymentRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// SumByItem returns the total minor units paid for an item.
func (r *PaymentRepo) SumByItem(ctx context.Context, itemID string) (*big.Int, error) {
	var sum string
	err := r.db.GetContext(ctx, &sum,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM payments WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}
	total, ok := new(big.Int).SetString(sum, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt payment sum %q for item %s", sum, itemID)
	}
	return total, nil
}

// CountByItem returns the number of payments for an item.
func (r *PaymentRepo) CountByItem(ctx context.Context, itemID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM payments WHERE item_id = $1`, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}
