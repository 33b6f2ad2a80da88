// Package gate composes verification, the ledger, access resolution
// and scanning into the operations the HTTP API and background workers
// run. Every durable payment record is created here, through one path:
// verify on chain first, then record.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/paymnee/paygate/internal/access"
	"github.com/paymnee/paygate/internal/core/amount"
	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/ledger"
	"github.com/paymnee/paygate/internal/scan"
	"github.com/paymnee/paygate/internal/verify"
)

// ErrPriceLocked is returned when an update would change the price or
// kind of an item that already has recorded payments. Past records
// were validated against the old price; changing it would orphan them.
var ErrPriceLocked = errors.New("item has recorded payments, price and kind are locked")

// ErrChunkQueueUnavailable is returned by failed-chunk operations when
// no queue backend is configured.
var ErrChunkQueueUnavailable = errors.New("failed chunk queue not configured")

// FailedChunkStore is the parked-chunk queue as the reconciler and the
// operator API see it. The scanner only needs Add; these callers also
// list, retry and resolve.
type FailedChunkStore interface {
	scan.FailedChunkQueue
	GetNext(ctx context.Context, recipient string) (*domain.FailedChunk, error)
	IncrementRetry(ctx context.Context, recipient, id string) error
	MarkResolved(ctx context.Context, recipient, id string) error
	GetAll(ctx context.Context, recipient string) ([]*domain.FailedChunk, error)
	Count(ctx context.Context, recipient string) (int, error)
}

// Gate is the engine facade.
type Gate struct {
	verifier *verify.Verifier
	ledger   *ledger.Ledger
	access   *access.Resolver
	scanner  *scan.Scanner

	items    storage.ItemRepository
	pages    storage.PageRepository
	payments storage.PaymentRepository
	failed   FailedChunkStore

	decimals int32
	retry    chain.RetryConfig
	log      *slog.Logger
}

// New wires a gate from its parts. decimals is the token's minor-unit
// scale, already resolved from the contract at startup. failed may be
// nil when no queue backend is configured.
func New(
	verifier *verify.Verifier,
	led *ledger.Ledger,
	resolver *access.Resolver,
	scanner *scan.Scanner,
	items storage.ItemRepository,
	pages storage.PageRepository,
	payments storage.PaymentRepository,
	failed FailedChunkStore,
	decimals int32,
	retry chain.RetryConfig,
	log *slog.Logger,
) *Gate {
	return &Gate{
		verifier: verifier,
		ledger:   led,
		access:   resolver,
		scanner:  scanner,
		items:    items,
		pages:    pages,
		payments: payments,
		failed:   failed,
		decimals: decimals,
		retry:    retry,
		log:      log,
	}
}

// SubmitResult is the outcome of SubmitPayment. AlreadyRecorded is true
// when the transaction hash had been recorded before this call; the
// payment is the pre-existing record in that case.
type SubmitResult struct {
	Payment         *domain.PaymentRecord
	AlreadyRecorded bool
}

// SubmitPayment verifies the transaction on chain and records it. The
// expected recipient is the creator wallet of the item's page; for
// fixed items the on-chain amount must equal the price exactly. The
// hash is checked against the ledger before any RPC round trip so
// replays stay cheap.
func (g *Gate) SubmitPayment(ctx context.Context, itemID, payerWallet, txHash string) (*SubmitResult, error) {
	item, err := g.items.Get(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", itemID, err)
	}
	page, err := g.pages.Get(ctx, item.PageID)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", item.PageID, err)
	}

	if existing, err := g.ledger.GetByTxHash(ctx, txHash); err == nil {
		return &SubmitResult{Payment: existing, AlreadyRecorded: true}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var expected *big.Int
	if item.Kind == domain.ItemKindFixed {
		if expected, err = amount.ToMinor(item.Price, g.decimals); err != nil {
			return nil, fmt.Errorf("item %s price: %w", item.ID, err)
		}
	}

	result, err := g.verifier.VerifyWithRetry(ctx, verify.Request{
		TxHash:         txHash,
		Recipient:      page.CreatorWallet,
		Sender:         payerWallet,
		ExpectedAmount: expected,
	}, g.retry)
	if err != nil {
		return nil, err
	}

	record, err := g.ledger.Record(ctx, item, payerWallet, txHash, result.Amount)
	if errors.Is(err, ledger.ErrAlreadyRecorded) {
		return &SubmitResult{Payment: record, AlreadyRecorded: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Payment: record}, nil
}

// GetPayment returns the ledger record for a hash.
func (g *Gate) GetPayment(ctx context.Context, txHash string) (*domain.PaymentRecord, error) {
	return g.ledger.GetByTxHash(ctx, txHash)
}

// PaymentHistory lists all payments made by a wallet, newest first.
func (g *Gate) PaymentHistory(ctx context.Context, wallet string) ([]*domain.PaymentRecord, error) {
	return g.ledger.ListByPayer(ctx, wallet)
}

// CheckAccess resolves whether wallet may see itemID's content.
func (g *Gate) CheckAccess(ctx context.Context, wallet, itemID string) (*access.Decision, error) {
	return g.access.Check(ctx, wallet, itemID)
}

// ItemStats returns payment count and minor-unit total for an item.
func (g *Gate) ItemStats(ctx context.Context, itemID string) (*ledger.ItemStats, error) {
	if _, err := g.items.Get(ctx, itemID); err != nil {
		return nil, fmt.Errorf("item %s: %w", itemID, err)
	}
	return g.ledger.StatsByItem(ctx, itemID)
}

// ScanRecipient prepares a scan over transfers to a recipient wallet.
// Zero bounds mean "resume from checkpoint" and "up to latest block".
func (g *Gate) ScanRecipient(ctx context.Context, recipient string, fromBlock, toBlock uint64) (*scan.Iterator, error) {
	return g.scanner.Scan(ctx, recipient, fromBlock, toBlock)
}

// ListFailedChunks returns the block ranges parked for a recipient
// after exhausting their scan retry budget.
func (g *Gate) ListFailedChunks(ctx context.Context, recipient string) ([]*domain.FailedChunk, error) {
	if g.failed == nil {
		return nil, ErrChunkQueueUnavailable
	}
	addr, err := domain.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}
	return g.failed.GetAll(ctx, addr)
}

// RetryFailedChunk rescans one parked chunk and returns the candidates
// found in its range. A clean rescan resolves the chunk; a failed one
// bumps its retry count and keeps it parked.
func (g *Gate) RetryFailedChunk(ctx context.Context, recipient, id string) ([]scan.Candidate, error) {
	if g.failed == nil {
		return nil, ErrChunkQueueUnavailable
	}
	addr, err := domain.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}

	chunks, err := g.failed.GetAll(ctx, addr)
	if err != nil {
		return nil, err
	}
	var fc *domain.FailedChunk
	for _, c := range chunks {
		if c.ID == id {
			fc = c
			break
		}
	}
	if fc == nil {
		return nil, fmt.Errorf("failed chunk %s: %w", id, storage.ErrNotFound)
	}

	it, err := g.scanner.Scan(ctx, addr, fc.FromBlock, fc.ToBlock)
	if err != nil {
		return nil, err
	}
	var candidates []scan.Candidate
	for it.Next(ctx) {
		candidates = append(candidates, it.Candidate())
	}
	if err := it.Err(); err != nil {
		if rerr := g.failed.IncrementRetry(ctx, addr, id); rerr != nil {
			g.log.Error("failed to bump chunk retry count", "id", id, "error", rerr)
		}
		return nil, err
	}

	if err := g.failed.MarkResolved(ctx, addr, id); err != nil {
		return nil, err
	}
	g.log.Info("failed chunk resolved",
		"recipient", addr, "from", fc.FromBlock, "to", fc.ToBlock, "candidates", len(candidates))
	return candidates, nil
}

// CreatePage validates and stores a new creator page.
func (g *Gate) CreatePage(ctx context.Context, creatorWallet, title, description string) (*domain.Page, error) {
	wallet, err := domain.NormalizeAddress(creatorWallet)
	if err != nil {
		return nil, err
	}
	page := &domain.Page{
		ID:            uuid.NewString(),
		CreatorWallet: wallet,
		Title:         title,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := g.pages.Create(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// GetPage returns a page by id.
func (g *Gate) GetPage(ctx context.Context, id string) (*domain.Page, error) {
	return g.pages.Get(ctx, id)
}

// ListPagesByCreator returns a creator's pages, newest first.
func (g *Gate) ListPagesByCreator(ctx context.Context, wallet string) ([]*domain.Page, error) {
	w, err := domain.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}
	return g.pages.ListByCreator(ctx, w)
}

// CreateItem validates and stores a new item under a page.
func (g *Gate) CreateItem(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if _, err := g.pages.Get(ctx, item.PageID); err != nil {
		return nil, fmt.Errorf("page %s: %w", item.PageID, err)
	}
	item.ID = uuid.NewString()
	item.CreatedAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := g.items.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetItem returns an item by id.
func (g *Gate) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return g.items.Get(ctx, id)
}

// ListItemsByPage returns a page's items, oldest first.
func (g *Gate) ListItemsByPage(ctx context.Context, pageID string) ([]*domain.Item, error) {
	return g.items.ListByPage(ctx, pageID)
}

// UpdateItem rewrites an item's mutable fields. Once an item has any
// recorded payment its price and kind are frozen.
func (g *Gate) UpdateItem(ctx context.Context, updated *domain.Item) (*domain.Item, error) {
	current, err := g.items.Get(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	updated.PageID = current.PageID
	updated.CreatedAt = current.CreatedAt
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if updated.Kind != current.Kind || updated.Price != current.Price {
		count, err := g.payments.CountByItem(ctx, updated.ID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrPriceLocked
		}
	}

	if err := g.items.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
