package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/paymnee/paygate/internal/core/amount"
	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/scan"
	"github.com/paymnee/paygate/internal/verify"
)

// ReconcilerConfig holds configuration for the reconciliation sweep.
type ReconcilerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// DefaultReconcilerConfig returns the default sweep settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{Interval: 5 * time.Minute, Enabled: true}
}

// Reconciler periodically scans every creator wallet for transfers the
// ledger missed, usually because the payer closed the page between the
// on-chain confirmation and the submit call. A candidate is recorded
// only when it maps to exactly one fixed-price item of the creator by
// amount; ambiguous or unmatched transfers are left for an operator.
type Reconciler struct {
	gate *Gate
	cfg  ReconcilerConfig
	log  *slog.Logger
}

// NewReconciler creates a reconciliation worker over the gate.
func NewReconciler(g *Gate, cfg ReconcilerConfig, log *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcilerConfig().Interval
	}
	return &Reconciler{gate: g, cfg: cfg, log: log.With("component", "reconciler")}
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("starting reconciliation worker", "interval", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciliation worker stopped")
			return nil
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.log.Warn("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single reconciliation pass over all creators.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	creators, err := r.gate.pages.DistinctCreators(ctx)
	if err != nil {
		return err
	}

	for _, creator := range creators {
		if err := r.sweepCreator(ctx, creator); err != nil {
			r.log.Warn("creator sweep failed", "creator", creator, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (r *Reconciler) sweepCreator(ctx context.Context, creator string) error {
	items, err := r.gate.items.ListByCreator(ctx, creator)
	if err != nil {
		return err
	}

	it, err := r.gate.ScanRecipient(ctx, creator, 0, 0)
	if err != nil {
		return err
	}
	candidates, err := scan.Unrecorded(ctx, it)
	if err != nil {
		return err
	}

	deferred, err := r.recordCandidates(ctx, creator, items, candidates)
	if err != nil {
		return err
	}
	// The checkpoint has already moved past these blocks, so park them
	// or later sweeps would never see the candidates again.
	for _, d := range deferred {
		r.parkCandidate(ctx, creator, d.cand, d.cause)
	}

	return r.drainFailedChunks(ctx, creator, items)
}

// deferredCandidate is a candidate whose verification failed for a
// retryable reason during a sweep.
type deferredCandidate struct {
	cand  scan.Candidate
	cause error
}

// recordCandidates pushes candidates through the regular submit path.
// Transient rejections come back for the caller to requeue; permanent
// ones are logged and dropped.
func (r *Reconciler) recordCandidates(ctx context.Context, creator string, items []*domain.Item, candidates []scan.Candidate) ([]deferredCandidate, error) {
	var deferred []deferredCandidate
	for _, c := range candidates {
		item, ok := r.matchItem(items, c)
		if !ok {
			r.log.Info("unmatched transfer, leaving for operator",
				"creator", creator, "tx_hash", c.TxHash, "amount", c.Amount.String())
			continue
		}
		// Full verification again even though the transfer came from a
		// log scan: recording goes through the one path or not at all.
		result, err := r.gate.SubmitPayment(ctx, item.ID, c.From, c.TxHash)
		if err != nil {
			if verify.IsRetryable(err) {
				deferred = append(deferred, deferredCandidate{cand: c, cause: err})
				continue
			}
			if reason, ok := verify.ReasonOf(err); ok {
				r.log.Warn("candidate rejected", "tx_hash", c.TxHash, "reason", reason)
				continue
			}
			return nil, err
		}
		if !result.AlreadyRecorded {
			r.log.Info("reconciled missed payment",
				"tx_hash", c.TxHash, "item_id", item.ID, "payer", c.From)
		}
	}
	return deferred, nil
}

// parkCandidate queues a candidate's block as a single-block chunk so
// the next sweep's drain revisits it.
func (r *Reconciler) parkCandidate(ctx context.Context, creator string, c scan.Candidate, cause error) {
	if r.gate.failed == nil {
		r.log.Warn("no chunk queue, transient candidate will need a manual rescan",
			"tx_hash", c.TxHash, "block", c.BlockNumber)
		return
	}
	block := scan.Range{Start: c.BlockNumber, End: c.BlockNumber}
	fc := &domain.FailedChunk{
		ID:        block.String(),
		Recipient: creator,
		FromBlock: block.Start,
		ToBlock:   block.End,
		Reason:    cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if err := r.gate.failed.Add(ctx, fc); err != nil {
		r.log.Error("failed to park candidate block",
			"tx_hash", c.TxHash, "block", c.BlockNumber, "error", err)
		return
	}
	r.log.Info("parked transient candidate for the next sweep",
		"tx_hash", c.TxHash, "block", c.BlockNumber)
}

// drainFailedChunks rescans chunks parked behind the checkpoint. A
// chunk whose candidates all settle is resolved; anything still shaky
// gets its retry count bumped and stays in the queue.
func (r *Reconciler) drainFailedChunks(ctx context.Context, creator string, items []*domain.Item) error {
	if r.gate.failed == nil {
		return nil
	}
	if n, err := r.gate.failed.Count(ctx, creator); err != nil {
		return err
	} else if n == 0 {
		return nil
	} else {
		r.log.Info("draining parked chunks", "creator", creator, "count", n)
	}

	seen := make(map[string]bool)
	for {
		fc, err := r.gate.failed.GetNext(ctx, creator)
		if err != nil {
			return err
		}
		if fc == nil || seen[fc.ID] {
			return nil
		}
		seen[fc.ID] = true

		it, err := r.gate.ScanRecipient(ctx, creator, fc.FromBlock, fc.ToBlock)
		if err != nil {
			return err
		}
		candidates, err := scan.Unrecorded(ctx, it)
		if err != nil {
			// The scanner re-parked the range under the same id.
			if rerr := r.gate.failed.IncrementRetry(ctx, creator, fc.ID); rerr != nil {
				r.log.Error("failed to bump chunk retry count", "id", fc.ID, "error", rerr)
			}
			r.log.Warn("parked chunk rescan failed", "id", fc.ID, "error", err)
			continue
		}

		deferred, err := r.recordCandidates(ctx, creator, items, candidates)
		if err != nil {
			return err
		}
		if len(deferred) > 0 {
			if err := r.gate.failed.IncrementRetry(ctx, creator, fc.ID); err != nil {
				return err
			}
			continue
		}
		if err := r.gate.failed.MarkResolved(ctx, creator, fc.ID); err != nil {
			return err
		}
		r.log.Info("parked chunk resolved", "id", fc.ID, "creator", creator)
	}
}

// matchItem finds the creator's fixed-price item whose price equals the
// transferred amount. Returns false unless the match is unique.
func (r *Reconciler) matchItem(items []*domain.Item, c scan.Candidate) (*domain.Item, bool) {
	var match *domain.Item
	for _, item := range items {
		if item.Kind != domain.ItemKindFixed {
			continue
		}
		expected, err := amount.ToMinor(item.Price, r.gate.decimals)
		if err != nil {
			continue
		}
		if amount.EqualMinor(expected, c.Amount) {
			if match != nil {
				return nil, false
			}
			match = item
		}
	}
	return match, match != nil
}
