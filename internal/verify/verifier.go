// Package verify confirms that a transaction hash represents a valid
// token transfer matching the expected parties and amount. It is
// read-only: recording verified payments is the ledger's job.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/paymnee/paygate/internal/core/amount"
	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/metrics"
)

// Request identifies the transfer to verify. Sender is optional;
// ExpectedAmount is nil for open-amount items, in which case any
// strictly positive transfer passes.
type Request struct {
	TxHash         string
	Recipient      string
	Sender         string
	ExpectedAmount *big.Int
}

// Result describes a successfully verified transfer.
type Result struct {
	TxHash      string   `json:"tx_hash"`
	Amount      *big.Int `json:"amount"`
	BlockNumber uint64   `json:"block_number"`
	Sender      string   `json:"sender"`
	Recipient   string   `json:"recipient"`
}

// Verifier checks transfers against chain state.
type Verifier struct {
	chain chain.Reader
	log   *slog.Logger
}

// New creates a verifier on top of a chain reader.
func New(reader chain.Reader, log *slog.Logger) *Verifier {
	return &Verifier{chain: reader, log: log}
}

// Verify runs the full check: receipt exists, transaction did not
// revert, a Transfer event to the recipient (from the sender, if
// given) was emitted in the receipt's block under the requested hash,
// and the amount matches exactly. The block restriction prevents
// matching an unrelated transaction that happens to share parties.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	txHash, err := domain.NormalizeTxHash(req.TxHash)
	if err != nil {
		return nil, err
	}
	recipient, err := domain.NormalizeAddress(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	sender := ""
	if req.Sender != "" {
		if sender, err = domain.NormalizeAddress(req.Sender); err != nil {
			return nil, fmt.Errorf("sender: %w", err)
		}
	}

	receipt, err := v.chain.ReceiptByHash(ctx, txHash)
	if err != nil {
		return nil, v.classify("receipt lookup", txHash, err)
	}
	if receipt.Reverted {
		metrics.VerificationsTotal.WithLabelValues(string(ReasonReverted)).Inc()
		return nil, &Error{Reason: ReasonReverted, Message: "transaction reverted on chain"}
	}

	transfers, err := v.chain.FilterTransfers(ctx, chain.TransferFilter{
		Recipient: recipient,
		Sender:    sender,
		FromBlock: receipt.BlockNumber,
		ToBlock:   receipt.BlockNumber,
	})
	if err != nil {
		return nil, v.classify("transfer log lookup", txHash, err)
	}

	var match *domain.Transfer
	for i := range transfers {
		if transfers[i].TxHash == txHash {
			match = &transfers[i]
			break
		}
	}
	if match == nil {
		metrics.VerificationsTotal.WithLabelValues(string(ReasonLogMismatch)).Inc()
		return nil, &Error{
			Reason:  ReasonLogMismatch,
			Message: "no matching transfer event emitted to the expected recipient",
		}
	}

	if req.ExpectedAmount != nil {
		if !amount.EqualMinor(req.ExpectedAmount, match.Amount) {
			metrics.VerificationsTotal.WithLabelValues(string(ReasonAmountMismatch)).Inc()
			return nil, &Error{
				Reason:   ReasonAmountMismatch,
				Expected: req.ExpectedAmount,
				Actual:   match.Amount,
			}
		}
	} else if match.Amount == nil || match.Amount.Sign() <= 0 {
		metrics.VerificationsTotal.WithLabelValues(string(ReasonAmountMismatch)).Inc()
		return nil, &Error{
			Reason:  ReasonAmountMismatch,
			Message: "open-amount payment must be strictly positive",
			Actual:  match.Amount,
		}
	}

	metrics.VerificationsTotal.WithLabelValues("ok").Inc()
	v.log.Debug("transfer verified",
		"tx_hash", txHash, "block", match.BlockNumber, "amount", match.Amount.String())

	return &Result{
		TxHash:      txHash,
		Amount:      match.Amount,
		BlockNumber: match.BlockNumber,
		Sender:      match.From,
		Recipient:   match.To,
	}, nil
}

// VerifyWithRetry re-runs Verify on retryable failures (receipt not
// yet visible, transient transport errors) with bounded exponential
// backoff. Permanent failures return immediately.
func (v *Verifier) VerifyWithRetry(ctx context.Context, req Request, cfg chain.RetryConfig) (*Result, error) {
	var lastErr error

	delay := cfg.InitialDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := v.Verify(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		v.log.Debug("verification retryable, backing off",
			"tx_hash", req.TxHash, "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.BackoffMultiple)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("verification failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// classify maps chain-level failures onto the verification taxonomy.
func (v *Verifier) classify(op, txHash string, err error) error {
	switch {
	case errors.Is(err, chain.ErrReceiptNotFound):
		metrics.VerificationsTotal.WithLabelValues(string(ReasonNotFound)).Inc()
		return &Error{Reason: ReasonNotFound, Message: "transaction not found on chain", Err: err}
	case chain.IsTransient(err):
		metrics.VerificationsTotal.WithLabelValues(string(ReasonTransientNetwork)).Inc()
		return &Error{Reason: ReasonTransientNetwork, Message: op + " failed", Err: err}
	default:
		v.log.Warn("verification failed", "op", op, "tx_hash", txHash, "error", err)
		return fmt.Errorf("%s failed: %w", op, err)
	}
}
