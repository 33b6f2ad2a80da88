// Package access answers one question: may this wallet see this
// item's content right now. The rule is simple on purpose: a ledger
// record for (wallet, item) grants access forever. No sessions, no
// expiry, no revocation.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/metrics"
)

const (
	ReasonPaymentVerified = "payment_verified"
	ReasonNoPayment       = "no_payment_found"
)

// Decision is the outcome of an access check. ContentURL is only
// populated when Granted is true; a denial must never leak it.
type Decision struct {
	Granted    bool                  `json:"granted"`
	Reason     string                `json:"reason"`
	ContentURL string                `json:"content_url,omitempty"`
	Payment    *domain.PaymentRecord `json:"payment,omitempty"`
}

// Resolver resolves access decisions from ledger state.
type Resolver struct {
	items    storage.ItemRepository
	payments storage.PaymentRepository
	log      *slog.Logger
}

// New creates a resolver over the item and payment repositories.
func New(items storage.ItemRepository, payments storage.PaymentRepository, log *slog.Logger) *Resolver {
	return &Resolver{items: items, payments: payments, log: log}
}

// Check resolves whether wallet has paid for itemID. The wallet is
// normalized to lower-case first so mixed-case callers match the
// lower-case ledger. Unknown items are an error, not a denial.
func (r *Resolver) Check(ctx context.Context, wallet, itemID string) (*Decision, error) {
	w, err := domain.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}

	item, err := r.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("item %s: %w", itemID, err)
		}
		return nil, err
	}

	records, err := r.payments.ListByPayer(ctx, w)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ItemID == item.ID {
			metrics.AccessChecks.WithLabelValues("true").Inc()
			return &Decision{
				Granted:    true,
				Reason:     ReasonPaymentVerified,
				ContentURL: item.ContentURL,
				Payment:    rec,
			}, nil
		}
	}

	metrics.AccessChecks.WithLabelValues("false").Inc()
	r.log.Debug("access denied", "wallet", w, "item_id", itemID)
	return &Decision{Granted: false, Reason: ReasonNoPayment}, nil
}
