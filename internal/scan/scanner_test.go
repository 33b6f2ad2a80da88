package scan

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/infra/storage/memory"
)

const recipient = "0x1111111111111111111111111111111111111111"

// fakeChain serves transfers from a fixed set and records the block
// ranges it was asked for.
type fakeChain struct {
	transfers []domain.Transfer
	latest    uint64
	queries   []chain.TransferFilter
	failFirst int // fail this many FilterTransfers calls
	calls     int
}

func (f *fakeChain) ReceiptByHash(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return nil, chain.ErrReceiptNotFound
}

func (f *fakeChain) FilterTransfers(ctx context.Context, filter chain.TransferFilter) ([]domain.Transfer, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("502 bad gateway")
	}
	f.queries = append(f.queries, filter)
	var out []domain.Transfer
	for _, t := range f.transfers {
		if t.To == filter.Recipient && t.BlockNumber >= filter.FromBlock && t.BlockNumber <= filter.ToBlock {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeChain) TokenDecimals(ctx context.Context) (int32, error) { return 6, nil }
func (f *fakeChain) LatestBlock(ctx context.Context) (uint64, error)  { return f.latest, nil }

func transferAt(block uint64, hash string) domain.Transfer {
	return domain.Transfer{
		TxHash:      hash,
		BlockNumber: block,
		From:        "0x2222222222222222222222222222222222222222",
		To:          recipient,
		Amount:      big.NewInt(1000),
	}
}

func fastRetry() chain.RetryConfig {
	return chain.RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        time.Millisecond,
		BackoffMultiple: 1.0,
	}
}

func newScanner(fc *fakeChain, store *memory.Store, queue FailedChunkQueue, chunkSize uint64) *Scanner {
	return New(fc, memory.NewPaymentRepo(store), memory.NewCheckpointRepo(store), queue,
		Config{ChunkSize: chunkSize, Retry: fastRetry()}, slog.New(slog.DiscardHandler))
}

func collect(t *testing.T, it *Iterator) []Candidate {
	t.Helper()
	var out []Candidate
	ctx := context.Background()
	for it.Next(ctx) {
		out = append(out, it.Candidate())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	return out
}

func TestScan_FindsTransfersAcrossChunks(t *testing.T) {
	fc := &fakeChain{
		latest: 250,
		transfers: []domain.Transfer{
			transferAt(10, "0xaaa1aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			transferAt(120, "0xaaa2aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			transferAt(240, "0xaaa3aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		},
	}
	store := memory.NewStore()
	s := newScanner(fc, store, nil, 100)

	it, err := s.Scan(context.Background(), recipient, 1, 250)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	candidates := collect(t, it)

	if len(candidates) != 3 {
		t.Fatalf("Expected 3 candidates, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.Recorded {
			t.Errorf("Candidate %s should be unrecorded", c.TxHash)
		}
	}
	// 250 blocks at chunk size 100 = 3 queries.
	if len(fc.queries) != 3 {
		t.Errorf("Expected 3 chunk queries, got %d", len(fc.queries))
	}
}

func TestScan_AnnotatesRecordedTransfers(t *testing.T) {
	hash := "0xaaa1aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fc := &fakeChain{latest: 50, transfers: []domain.Transfer{transferAt(10, hash)}}
	store := memory.NewStore()
	err := memory.NewPaymentRepo(store).Insert(context.Background(), &domain.PaymentRecord{
		ID: "p1", ItemID: "i1", PayerWallet: "0x2222222222222222222222222222222222222222",
		TxHash: hash, Amount: big.NewInt(1000), CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := newScanner(fc, store, nil, 100)
	it, err := s.Scan(context.Background(), recipient, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	candidates := collect(t, it)

	if len(candidates) != 1 || !candidates[0].Recorded {
		t.Fatalf("Expected one recorded candidate, got %+v", candidates)
	}
}

func TestScan_ResumesFromCheckpoint(t *testing.T) {
	fc := &fakeChain{latest: 300}
	store := memory.NewStore()
	err := memory.NewCheckpointRepo(store).Save(context.Background(), &domain.ScanCheckpoint{
		Recipient: recipient, LastBlock: 200, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := newScanner(fc, store, nil, 1000)
	it, err := s.Scan(context.Background(), recipient, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, it)

	if len(fc.queries) != 1 {
		t.Fatalf("Expected 1 query, got %d", len(fc.queries))
	}
	if fc.queries[0].FromBlock != 201 || fc.queries[0].ToBlock != 300 {
		t.Errorf("Expected query 201-300, got %d-%d", fc.queries[0].FromBlock, fc.queries[0].ToBlock)
	}
}

func TestScan_AdvancesCheckpoint(t *testing.T) {
	fc := &fakeChain{latest: 100}
	store := memory.NewStore()
	s := newScanner(fc, store, nil, 40)

	it, err := s.Scan(context.Background(), recipient, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, it)

	cp, err := memory.NewCheckpointRepo(store).Get(context.Background(), recipient)
	if err != nil {
		t.Fatalf("Checkpoint missing after scan: %v", err)
	}
	if cp.LastBlock != 100 {
		t.Errorf("Expected checkpoint at 100, got %d", cp.LastBlock)
	}
}

func TestScan_NothingNewSinceCheckpoint(t *testing.T) {
	fc := &fakeChain{latest: 200}
	store := memory.NewStore()
	err := memory.NewCheckpointRepo(store).Save(context.Background(), &domain.ScanCheckpoint{
		Recipient: recipient, LastBlock: 200, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := newScanner(fc, store, nil, 100)
	it, err := s.Scan(context.Background(), recipient, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if candidates := collect(t, it); len(candidates) != 0 {
		t.Fatalf("Expected empty scan, got %d candidates", len(candidates))
	}
	if len(fc.queries) != 0 {
		t.Error("Up-to-date scan must not query the chain")
	}
}

func TestScan_RetriesTransientErrors(t *testing.T) {
	fc := &fakeChain{
		latest:    50,
		failFirst: 2,
		transfers: []domain.Transfer{transferAt(10, "0xaaa1aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")},
	}
	store := memory.NewStore()
	s := newScanner(fc, store, nil, 100)

	it, err := s.Scan(context.Background(), recipient, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	candidates := collect(t, it)
	if len(candidates) != 1 {
		t.Fatalf("Expected scan to survive transient errors, got %d candidates", len(candidates))
	}
}

// captureQueue records parked chunks in memory.
type captureQueue struct {
	chunks []*domain.FailedChunk
}

func (q *captureQueue) Add(ctx context.Context, fc *domain.FailedChunk) error {
	q.chunks = append(q.chunks, fc)
	return nil
}

func TestScan_ParksChunkAfterRetryBudget(t *testing.T) {
	fc := &fakeChain{latest: 50, failFirst: 100}
	store := memory.NewStore()
	queue := &captureQueue{}
	s := newScanner(fc, store, queue, 100)

	it, err := s.Scan(context.Background(), recipient, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	for it.Next(context.Background()) {
	}
	if it.Err() == nil {
		t.Fatal("Expected iteration error after exhausted retries")
	}

	if len(queue.chunks) != 1 {
		t.Fatalf("Expected 1 parked chunk, got %d", len(queue.chunks))
	}
	parked := queue.chunks[0]
	if parked.FromBlock != 1 || parked.ToBlock != 50 {
		t.Errorf("Parked wrong range: %d-%d", parked.FromBlock, parked.ToBlock)
	}
	// Range string as id keeps re-parks of the same range idempotent.
	if parked.ID != "1-50" {
		t.Errorf("Expected range-derived id, got %q", parked.ID)
	}

	// Checkpoint must not move past the failed chunk.
	if _, err := memory.NewCheckpointRepo(store).Get(context.Background(), recipient); err == nil {
		t.Error("Checkpoint must not advance over a failed chunk")
	}
}

func TestScan_InvalidRecipient(t *testing.T) {
	s := newScanner(&fakeChain{latest: 10}, memory.NewStore(), nil, 100)
	if _, err := s.Scan(context.Background(), "bogus", 0, 0); err == nil {
		t.Fatal("Expected error for invalid recipient")
	}
}

func TestRangeSplit(t *testing.T) {
	chunks := Range{Start: 1, End: 250}.Split(100)
	want := []Range{{1, 100}, {101, 200}, {201, 250}}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if c != want[i] {
			t.Errorf("Chunk %d: expected %v, got %v", i, want[i], c)
		}
	}
}

func TestRangeSplit_SingleChunk(t *testing.T) {
	chunks := Range{Start: 5, End: 10}.Split(100)
	if len(chunks) != 1 || chunks[0] != (Range{5, 10}) {
		t.Fatalf("Expected single chunk, got %v", chunks)
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("100-200")
	if err != nil {
		t.Fatal(err)
	}
	if r.Start != 100 || r.End != 200 {
		t.Errorf("Got %v", r)
	}
	if _, err := ParseRange("200-100"); err == nil {
		t.Error("Reversed range must fail")
	}
	if _, err := ParseRange("nope"); err == nil {
		t.Error("Garbage must fail")
	}
}
