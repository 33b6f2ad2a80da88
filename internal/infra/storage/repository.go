// Package storage defines the persistence interfaces for the payment
// engine. The postgres subpackage is the durable implementation; the
// memory subpackage backs tests.
package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/paymnee/paygate/internal/core/domain"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTxHash is returned by PaymentRepository.Insert when a
	// record with the same transaction hash already exists. The ledger
	// turns this into idempotent success.
	ErrDuplicateTxHash = errors.New("transaction hash already recorded")
)

// PaymentRepository stores confirmed payments. Insert must be atomic
// insert-or-reject on the tx hash unique index: under concurrent calls
// for one hash, exactly one insert wins and the rest observe
// ErrDuplicateTxHash. Records are never updated or deleted.
type PaymentRepository interface {
	Insert(ctx context.Context, p *domain.PaymentRecord) error
	GetByTxHash(ctx context.Context, txHash string) (*domain.PaymentRecord, error)
	ExistsByTxHash(ctx context.Context, txHash string) (bool, error)
	ListByPayer(ctx context.Context, wallet string) ([]*domain.PaymentRecord, error)
	ListByItem(ctx context.Context, itemID string) ([]*domain.PaymentRecord, error)
	SumByItem(ctx context.Context, itemID string) (*big.Int, error)
	CountByItem(ctx context.Context, itemID string) (int64, error)
}

// ItemRepository stores purchasable items.
type ItemRepository interface {
	Create(ctx context.Context, item *domain.Item) error
	Get(ctx context.Context, id string) (*domain.Item, error)
	Update(ctx context.Context, item *domain.Item) error
	ListByPage(ctx context.Context, pageID string) ([]*domain.Item, error)
	ListByCreator(ctx context.Context, wallet string) ([]*domain.Item, error)
}

// PageRepository stores creator payment pages.
type PageRepository interface {
	Create(ctx context.Context, page *domain.Page) error
	Get(ctx context.Context, id string) (*domain.Page, error)
	ListByCreator(ctx context.Context, wallet string) ([]*domain.Page, error)
	DistinctCreators(ctx context.Context) ([]string, error)
}

// CheckpointRepository stores scan progress per recipient wallet.
type CheckpointRepository interface {
	Get(ctx context.Context, recipient string) (*domain.ScanCheckpoint, error)
	Save(ctx context.Context, cp *domain.ScanCheckpoint) error
}
