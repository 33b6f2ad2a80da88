// Package ledger is the idempotent durable store of confirmed
// payments. It is the only writer of payment records; everything else
// reads. A record is created exactly once per on-chain transaction and
// is never mutated or deleted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/paymnee/paygate/internal/core/amount"
	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/metrics"
)

var (
	// ErrAlreadyRecorded signals that a record for the transaction hash
	// already existed. It is not a failure: Record returns the existing
	// record alongside it, making the operation idempotent for callers.
	ErrAlreadyRecorded = errors.New("payment already recorded")

	// ErrAmountMismatch means the amount does not equal the fixed
	// item's price in minor units. The verifier enforces this upstream;
	// the ledger re-checks so the invariant holds no matter who calls.
	ErrAmountMismatch = errors.New("amount does not match item price")
)

// Ledger records and queries confirmed payments.
type Ledger struct {
	payments storage.PaymentRepository
	decimals int32
	log      *slog.Logger
}

// New creates a ledger. decimals is the token's minor-unit scale, used
// to convert fixed item prices for the amount invariant check.
func New(payments storage.PaymentRepository, decimals int32, log *slog.Logger) *Ledger {
	return &Ledger{payments: payments, decimals: decimals, log: log}
}

// Record inserts a confirmed payment. Wallet and hash are normalized
// to lower-case hex first. If a record with the same hash already
// exists, including when a concurrent call wins the insert race, the
// existing record is returned with ErrAlreadyRecorded. Uniqueness is
// enforced by the storage layer's atomic insert, not in-process
// locking, because the backfill scanner may write from another process.
func (l *Ledger) Record(ctx context.Context, item *domain.Item, payerWallet, txHash string, amt *big.Int) (*domain.PaymentRecord, error) {
	wallet, err := domain.NormalizeAddress(payerWallet)
	if err != nil {
		return nil, err
	}
	hash, err := domain.NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}
	if amt == nil || amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", amount.ErrInvalidAmount)
	}

	if item.Kind == domain.ItemKindFixed {
		expected, err := amount.ToMinor(item.Price, l.decimals)
		if err != nil {
			return nil, fmt.Errorf("item %s price: %w", item.ID, err)
		}
		if !amount.EqualMinor(expected, amt) {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrAmountMismatch, expected, amt)
		}
	}

	record := &domain.PaymentRecord{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		PayerWallet: wallet,
		TxHash:      hash,
		Amount:      new(big.Int).Set(amt),
		CreatedAt:   time.Now().UTC(),
	}

	err = l.payments.Insert(ctx, record)
	if errors.Is(err, storage.ErrDuplicateTxHash) {
		existing, getErr := l.payments.GetByTxHash(ctx, hash)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing payment for %s: %w", hash, getErr)
		}
		metrics.PaymentsRecorded.WithLabelValues("duplicate").Inc()
		return existing, ErrAlreadyRecorded
	}
	if err != nil {
		metrics.PaymentsRecorded.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.PaymentsRecorded.WithLabelValues("created").Inc()
	l.log.Info("payment recorded",
		"tx_hash", hash, "item_id", item.ID, "payer", wallet, "amount", amt.String())
	return record, nil
}

// GetByTxHash looks up a payment by transaction hash (normalized).
func (l *Ledger) GetByTxHash(ctx context.Context, txHash string) (*domain.PaymentRecord, error) {
	hash, err := domain.NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}
	return l.payments.GetByTxHash(ctx, hash)
}

// Exists reports whether a payment record exists for the hash.
func (l *Ledger) Exists(ctx context.Context, txHash string) (bool, error) {
	hash, err := domain.NormalizeTxHash(txHash)
	if err != nil {
		return false, err
	}
	return l.payments.ExistsByTxHash(ctx, hash)
}

// ListByPayer returns all payments made by a wallet (normalized).
func (l *Ledger) ListByPayer(ctx context.Context, wallet string) ([]*domain.PaymentRecord, error) {
	w, err := domain.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}
	return l.payments.ListByPayer(ctx, w)
}

// ListByItem returns all payments for an item.
func (l *Ledger) ListByItem(ctx context.Context, itemID string) ([]*domain.PaymentRecord, error) {
	return l.payments.ListByItem(ctx, itemID)
}

// ItemStats are the per-item aggregates consumed by dashboards.
type ItemStats struct {
	Count int64    `json:"count"`
	Total *big.Int `json:"total"`
}

// StatsByItem returns payment count and minor-unit total for an item.
func (l *Ledger) StatsByItem(ctx context.Context, itemID string) (*ItemStats, error) {
	count, err := l.payments.CountByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	total, err := l.payments.SumByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &ItemStats{Count: count, Total: total}, nil
}
