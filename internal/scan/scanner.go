// Package scan walks historical chain state looking for transfers to a
// recipient wallet that the ledger has no record of. It never writes
// payment records itself: candidates it reports must still pass through
// verification and the ledger's single recording path.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/metrics"
)

// Candidate is a transfer found on chain, annotated with whether the
// ledger already knows about it.
type Candidate struct {
	domain.Transfer
	Recorded bool `json:"recorded"`
}

// FailedChunkQueue parks chunks that exhausted their retry budget.
// Optional; a nil queue means failures are only logged.
type FailedChunkQueue interface {
	Add(ctx context.Context, fc *domain.FailedChunk) error
}

// Config controls chunking and per-chunk retry behavior.
type Config struct {
	ChunkSize uint64            `yaml:"chunk_size"`
	Retry     chain.RetryConfig `yaml:"retry"`
}

// DefaultConfig keeps chunks well under common provider limits.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 2000,
		Retry:     chain.DefaultRetryConfig(),
	}
}

// Scanner discovers unrecorded transfers for recipient wallets.
type Scanner struct {
	chain       chain.Reader
	payments    storage.PaymentRepository
	checkpoints storage.CheckpointRepository
	failed      FailedChunkQueue
	cfg         Config
	log         *slog.Logger
}

// New creates a scanner. failed may be nil.
func New(
	reader chain.Reader,
	payments storage.PaymentRepository,
	checkpoints storage.CheckpointRepository,
	failed FailedChunkQueue,
	cfg Config,
	log *slog.Logger,
) *Scanner {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	return &Scanner{
		chain:       reader,
		payments:    payments,
		checkpoints: checkpoints,
		failed:      failed,
		cfg:         cfg,
		log:         log,
	}
}

// Scan prepares a lazy iteration over transfers to recipient in
// [fromBlock, toBlock]. A zero fromBlock resumes from the recipient's
// checkpoint; a zero toBlock scans up to the latest block. No RPC calls
// for log data happen until the iterator is advanced.
func (s *Scanner) Scan(ctx context.Context, recipient string, fromBlock, toBlock uint64) (*Iterator, error) {
	addr, err := domain.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}

	if fromBlock == 0 {
		cp, err := s.checkpoints.Get(ctx, addr)
		switch {
		case err == nil:
			fromBlock = cp.LastBlock + 1
		case errors.Is(err, storage.ErrNotFound):
			fromBlock = 1
		default:
			return nil, fmt.Errorf("failed to load checkpoint for %s: %w", addr, err)
		}
	}
	if toBlock == 0 {
		latest, err := s.chain.LatestBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest block: %w", err)
		}
		toBlock = latest
	}
	if fromBlock > toBlock {
		// Nothing new since the checkpoint. An empty iterator, not an error.
		return &Iterator{scanner: s, recipient: addr}, nil
	}

	chunks := Range{Start: fromBlock, End: toBlock}.Split(s.cfg.ChunkSize)
	s.log.Info("scan prepared",
		"recipient", addr, "from", fromBlock, "to", toBlock, "chunks", len(chunks))

	return &Iterator{scanner: s, recipient: addr, chunks: chunks}, nil
}

// Iterator yields candidates one at a time, fetching a chunk of blocks
// only when the previous chunk's results are exhausted. Usage follows
// sql.Rows: advance with Next, read with Candidate, check Err after.
type Iterator struct {
	scanner   *Scanner
	recipient string
	chunks    []Range
	buffer    []Candidate
	idx       int
	err       error
	done      bool
}

// Next advances to the next candidate. It returns false when the scan
// is exhausted or failed; distinguish with Err.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	for it.idx >= len(it.buffer) {
		if len(it.chunks) == 0 {
			it.done = true
			return false
		}
		chunk := it.chunks[0]
		it.chunks = it.chunks[1:]
		if err := it.fetch(ctx, chunk); err != nil {
			it.err = err
			return false
		}
	}
	it.idx++
	return true
}

// Candidate returns the candidate Next advanced to.
func (it *Iterator) Candidate() Candidate {
	return it.buffer[it.idx-1]
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// fetch loads one chunk, annotates its transfers against the ledger,
// and advances the checkpoint. Checkpoints only move after a chunk
// succeeds in order, so a failure leaves no silent gap behind it.
func (it *Iterator) fetch(ctx context.Context, chunk Range) error {
	s := it.scanner

	var transfers []domain.Transfer
	err := chain.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		var ferr error
		transfers, ferr = s.chain.FilterTransfers(ctx, chain.TransferFilter{
			Recipient: it.recipient,
			FromBlock: chunk.Start,
			ToBlock:   chunk.End,
		})
		return ferr
	})
	if err != nil {
		metrics.ScanChunksTotal.WithLabelValues("failed").Inc()
		s.parkFailedChunk(ctx, it.recipient, chunk, err)
		return fmt.Errorf("chunk %s: %w", chunk, err)
	}

	it.buffer = it.buffer[:0]
	it.idx = 0
	for _, t := range transfers {
		recorded, err := s.payments.ExistsByTxHash(ctx, t.TxHash)
		if err != nil {
			return fmt.Errorf("ledger lookup for %s: %w", t.TxHash, err)
		}
		it.buffer = append(it.buffer, Candidate{Transfer: t, Recorded: recorded})
	}

	if err := s.checkpoints.Save(ctx, &domain.ScanCheckpoint{
		Recipient: it.recipient,
		LastBlock: chunk.End,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	metrics.ScanChunksTotal.WithLabelValues("ok").Inc()
	metrics.ScanCheckpointBlock.WithLabelValues(it.recipient).Set(float64(chunk.End))
	s.log.Debug("chunk scanned",
		"recipient", it.recipient, "range", chunk.String(), "transfers", len(transfers))
	return nil
}

// parkFailedChunk queues a chunk for a later retry. The chunk's range
// string doubles as its id, so re-parking the same range overwrites
// the earlier entry instead of piling up duplicates.
func (s *Scanner) parkFailedChunk(ctx context.Context, recipient string, chunk Range, cause error) {
	s.log.Warn("scan chunk failed",
		"recipient", recipient, "range", chunk.String(), "error", cause)
	if s.failed == nil {
		return
	}
	fc := &domain.FailedChunk{
		ID:        chunk.String(),
		Recipient: recipient,
		FromBlock: chunk.Start,
		ToBlock:   chunk.End,
		Reason:    cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if err := s.failed.Add(ctx, fc); err != nil {
		s.log.Error("failed to park chunk for retry",
			"recipient", recipient, "range", chunk.String(), "error", err)
	}
}

// Unrecorded drains an iterator and returns only candidates the ledger
// does not know about. Convenience for the reconciliation paths.
func Unrecorded(ctx context.Context, it *Iterator) ([]Candidate, error) {
	var out []Candidate
	for it.Next(ctx) {
		if c := it.Candidate(); !c.Recorded {
			out = append(out, c)
		}
	}
	return out, it.Err()
}
