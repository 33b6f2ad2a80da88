// Package chain defines the read-only view of the blockchain that the
// verification and scanning layers depend on. Implementations live in
// subpackages; everything above them works against the Reader
// interface so tests can substitute a fake chain.
package chain

import (
	"context"
	"errors"

	"github.com/paymnee/paygate/internal/core/domain"
)

// ErrReceiptNotFound means the transaction is unknown to the node.
// This is retryable: the transaction may simply not be propagated or
// mined yet.
var ErrReceiptNotFound = errors.New("transaction receipt not found")

// Receipt is the chain's record of a transaction's execution outcome.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Reverted    bool
}

// TransferFilter selects token Transfer events. Recipient is required;
// Sender narrows the match when the caller knows the payer. Blocks are
// inclusive on both ends.
type TransferFilter struct {
	Recipient string
	Sender    string
	FromBlock uint64
	ToBlock   uint64
}

// Reader is the read-only chain client consumed by the verifier and
// the scanner. All methods carry bounded timeouts internally.
type Reader interface {
	// ReceiptByHash fetches a transaction receipt, or ErrReceiptNotFound.
	ReceiptByHash(ctx context.Context, txHash string) (*Receipt, error)

	// FilterTransfers returns the token contract's Transfer events
	// matching the filter, in log order.
	FilterTransfers(ctx context.Context, f TransferFilter) ([]domain.Transfer, error)

	// TokenDecimals reports the token's minor-unit scale.
	TokenDecimals(ctx context.Context) (int32, error)

	// LatestBlock returns the current chain head number.
	LatestBlock(ctx context.Context) (uint64, error)
}
