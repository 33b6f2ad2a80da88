package gate

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paymnee/paygate/internal/access"
	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/infra/storage/memory"
	"github.com/paymnee/paygate/internal/ledger"
	"github.com/paymnee/paygate/internal/scan"
	"github.com/paymnee/paygate/internal/verify"
)

const (
	creator = "0x1111111111111111111111111111111111111111"
	payer   = "0x2222222222222222222222222222222222222222"
	payHash = "0xabcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
)

// fakeReader scripts one chain with receipts and transfer logs.
type fakeReader struct {
	receipts     map[string]*chain.Receipt
	transfers    []domain.Transfer
	receiptCalls int
}

func (f *fakeReader) ReceiptByHash(ctx context.Context, txHash string) (*chain.Receipt, error) {
	f.receiptCalls++
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return r, nil
}

func (f *fakeReader) FilterTransfers(ctx context.Context, filter chain.TransferFilter) ([]domain.Transfer, error) {
	var out []domain.Transfer
	for _, t := range f.transfers {
		if t.To != filter.Recipient || t.BlockNumber < filter.FromBlock || t.BlockNumber > filter.ToBlock {
			continue
		}
		if filter.Sender != "" && t.From != filter.Sender {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeReader) TokenDecimals(ctx context.Context) (int32, error) { return 6, nil }
func (f *fakeReader) LatestBlock(ctx context.Context) (uint64, error)  { return 100, nil }

// fakeChunkStore is an in-memory FailedChunkStore.
type fakeChunkStore struct {
	mu     sync.Mutex
	chunks map[string]map[string]*domain.FailedChunk // recipient, then id
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: make(map[string]map[string]*domain.FailedChunk)}
}

func (s *fakeChunkStore) Add(ctx context.Context, fc *domain.FailedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.chunks[fc.Recipient]
	if m == nil {
		m = make(map[string]*domain.FailedChunk)
		s.chunks[fc.Recipient] = m
	}
	cp := *fc
	m[fc.ID] = &cp
	return nil
}

func (s *fakeChunkStore) GetNext(ctx context.Context, recipient string) (*domain.FailedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.FailedChunk
	for _, fc := range s.chunks[recipient] {
		if next == nil || fc.RetryCount < next.RetryCount ||
			(fc.RetryCount == next.RetryCount && fc.ID < next.ID) {
			next = fc
		}
	}
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

func (s *fakeChunkStore) IncrementRetry(ctx context.Context, recipient, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc, ok := s.chunks[recipient][id]
	if !ok {
		return errors.New("no such chunk")
	}
	fc.RetryCount++
	fc.LastAttempt = time.Now().UTC()
	return nil
}

func (s *fakeChunkStore) MarkResolved(ctx context.Context, recipient, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks[recipient], id)
	return nil
}

func (s *fakeChunkStore) GetAll(ctx context.Context, recipient string) ([]*domain.FailedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.FailedChunk, 0, len(s.chunks[recipient]))
	for _, fc := range s.chunks[recipient] {
		cp := *fc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeChunkStore) Count(ctx context.Context, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[recipient]), nil
}

type fixture struct {
	gate   *Gate
	store  *memory.Store
	reader *fakeReader
	failed *fakeChunkStore
	itemID string
	pageID string
}

// newFixture builds a gate over in-memory storage, one page owned by
// creator and one fixed 10.5-token item on it.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	payments := memory.NewPaymentRepo(store)
	items := memory.NewItemRepo(store)
	pages := memory.NewPageRepo(store)
	checkpoints := memory.NewCheckpointRepo(store)

	reader := &fakeReader{
		receipts: map[string]*chain.Receipt{
			payHash: {TxHash: payHash, BlockNumber: 42},
		},
		transfers: []domain.Transfer{{
			TxHash:      payHash,
			BlockNumber: 42,
			From:        payer,
			To:          creator,
			Amount:      big.NewInt(10_500_000),
		}},
	}

	log := slog.New(slog.DiscardHandler)
	retry := chain.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1.0}
	failed := newFakeChunkStore()

	g := New(
		verify.New(reader, log),
		ledger.New(payments, 6, log),
		access.New(items, payments, log),
		scan.New(reader, payments, checkpoints, failed, scan.Config{ChunkSize: 100, Retry: retry}, log),
		items, pages, payments, failed, 6, retry, log,
	)

	page, err := g.CreatePage(context.Background(), creator, "My page", "")
	if err != nil {
		t.Fatal(err)
	}
	item, err := g.CreateItem(context.Background(), &domain.Item{
		PageID:     page.ID,
		Title:      "Report",
		Kind:       domain.ItemKindFixed,
		Price:      "10.5",
		ContentURL: "https://cdn.example.com/report.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{gate: g, store: store, reader: reader, failed: failed, itemID: item.ID, pageID: page.ID}
}

func TestSubmitPayment_EndToEnd(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.gate.SubmitPayment(ctx, fx.itemID, payer, payHash)
	if err != nil {
		t.Fatalf("SubmitPayment failed: %v", err)
	}
	if result.AlreadyRecorded {
		t.Error("First submission must not be marked as already recorded")
	}
	if result.Payment.Amount.Cmp(big.NewInt(10_500_000)) != 0 {
		t.Errorf("Recorded wrong amount: %s", result.Payment.Amount)
	}

	// The payment now unlocks the content.
	d, err := fx.gate.CheckAccess(ctx, payer, fx.itemID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Granted || d.ContentURL == "" {
		t.Error("Access must be granted after a recorded payment")
	}
}

func TestSubmitPayment_ReplaySkipsChain(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.gate.SubmitPayment(ctx, fx.itemID, payer, payHash)
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := fx.reader.receiptCalls

	second, err := fx.gate.SubmitPayment(ctx, fx.itemID, payer, payHash)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !second.AlreadyRecorded {
		t.Error("Replay must report already recorded")
	}
	if second.Payment.ID != first.Payment.ID {
		t.Error("Replay must return the original record")
	}
	if fx.reader.receiptCalls != callsAfterFirst {
		t.Error("Replay must not hit the chain")
	}
}

func TestSubmitPayment_WrongAmountRejected(t *testing.T) {
	fx := newFixture(t)
	fx.reader.transfers[0].Amount = big.NewInt(10_499_999)

	_, err := fx.gate.SubmitPayment(context.Background(), fx.itemID, payer, payHash)
	reason, ok := verify.ReasonOf(err)
	if !ok || reason != verify.ReasonAmountMismatch {
		t.Fatalf("Expected amount mismatch, got %v", err)
	}
}

func TestSubmitPayment_WrongRecipientRejected(t *testing.T) {
	fx := newFixture(t)
	fx.reader.transfers[0].To = payer // paid the wrong wallet

	_, err := fx.gate.SubmitPayment(context.Background(), fx.itemID, payer, payHash)
	reason, _ := verify.ReasonOf(err)
	if reason != verify.ReasonLogMismatch {
		t.Fatalf("Expected log mismatch, got %v", err)
	}
}

func TestSubmitPayment_UnknownItem(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.gate.SubmitPayment(context.Background(), "missing", payer, payHash); err == nil {
		t.Fatal("Expected error for unknown item")
	}
}

func TestUpdateItem_PriceLockedAfterPayment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.gate.SubmitPayment(ctx, fx.itemID, payer, payHash); err != nil {
		t.Fatal(err)
	}

	_, err := fx.gate.UpdateItem(ctx, &domain.Item{
		ID:    fx.itemID,
		Title: "Report",
		Kind:  domain.ItemKindFixed,
		Price: "12",
	})
	if !errors.Is(err, ErrPriceLocked) {
		t.Fatalf("Expected ErrPriceLocked, got %v", err)
	}

	// Title-only edits stay allowed.
	updated, err := fx.gate.UpdateItem(ctx, &domain.Item{
		ID:    fx.itemID,
		Title: "Report v2",
		Kind:  domain.ItemKindFixed,
		Price: "10.5",
	})
	if err != nil {
		t.Fatalf("Title edit failed: %v", err)
	}
	if updated.Title != "Report v2" {
		t.Errorf("Title not updated: %s", updated.Title)
	}
}

func TestUpdateItem_PriceChangeAllowedBeforePayments(t *testing.T) {
	fx := newFixture(t)

	updated, err := fx.gate.UpdateItem(context.Background(), &domain.Item{
		ID:    fx.itemID,
		Title: "Report",
		Kind:  domain.ItemKindFixed,
		Price: "12",
	})
	if err != nil {
		t.Fatalf("Price change before payments must work: %v", err)
	}
	if updated.Price != "12" {
		t.Errorf("Price not updated: %s", updated.Price)
	}
}

func TestCreateItem_ValidatesKindPriceInvariant(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.gate.CreateItem(ctx, &domain.Item{
		PageID: fx.pageID, Title: "Broken", Kind: domain.ItemKindFixed,
	})
	if !errors.Is(err, domain.ErrPriceRequired) {
		t.Errorf("Expected ErrPriceRequired, got %v", err)
	}

	_, err = fx.gate.CreateItem(ctx, &domain.Item{
		PageID: fx.pageID, Title: "Broken", Kind: domain.ItemKindOpen, Price: "5",
	})
	if !errors.Is(err, domain.ErrPriceForbidden) {
		t.Errorf("Expected ErrPriceForbidden, got %v", err)
	}
}

func TestScanRecipient_ExcludesRecordedAfterSubmit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	it, err := fx.gate.ScanRecipient(ctx, creator, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	before, err := scan.Unrecorded(ctx, it)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 1 {
		t.Fatalf("Expected 1 unrecorded candidate before submit, got %d", len(before))
	}

	if _, err := fx.gate.SubmitPayment(ctx, fx.itemID, payer, payHash); err != nil {
		t.Fatal(err)
	}

	it, err = fx.gate.ScanRecipient(ctx, creator, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	after, err := scan.Unrecorded(ctx, it)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 0 {
		t.Fatalf("Recorded payment must drop out of the unrecorded set, got %d", len(after))
	}
}

func TestReconciler_RecordsMissedPayment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r := NewReconciler(fx.gate, ReconcilerConfig{Interval: time.Minute, Enabled: true}, slog.New(slog.DiscardHandler))
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}

	rec, err := fx.gate.GetPayment(ctx, payHash)
	if err != nil {
		t.Fatalf("Sweep should have recorded the payment: %v", err)
	}
	if rec.ItemID != fx.itemID {
		t.Errorf("Recorded against wrong item: %s", rec.ItemID)
	}

	// A second sweep is a no-op thanks to ledger idempotency.
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatal(err)
	}
	records, err := fx.gate.PaymentHistory(ctx, payer)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record after repeated sweeps, got %d", len(records))
	}
}

func TestReconciler_ParksTransientCandidateAndRecovers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Transfer log is visible but the receipt is not yet, so
	// verification keeps failing with a retryable not-found.
	delete(fx.reader.receipts, payHash)

	r := NewReconciler(fx.gate, ReconcilerConfig{Interval: time.Minute, Enabled: true}, slog.New(slog.DiscardHandler))
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}

	if _, err := fx.gate.GetPayment(ctx, payHash); err == nil {
		t.Fatal("Unverifiable candidate must not be recorded")
	}
	n, err := fx.failed.Count(ctx, creator)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Expected the candidate's block parked, got %d chunks", n)
	}
	chunks, err := fx.gate.ListFailedChunks(ctx, creator)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].FromBlock != 42 || chunks[0].ToBlock != 42 {
		t.Errorf("Parked wrong range: %d-%d", chunks[0].FromBlock, chunks[0].ToBlock)
	}

	// The receipt shows up; the next sweep drains the parked block
	// even though the checkpoint already moved past it.
	fx.reader.receipts[payHash] = &chain.Receipt{TxHash: payHash, BlockNumber: 42}
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}

	rec, err := fx.gate.GetPayment(ctx, payHash)
	if err != nil {
		t.Fatalf("Drain should have recorded the payment: %v", err)
	}
	if rec.ItemID != fx.itemID {
		t.Errorf("Recorded against wrong item: %s", rec.ItemID)
	}
	if n, _ := fx.failed.Count(ctx, creator); n != 0 {
		t.Errorf("Resolved chunk must leave the queue, %d left", n)
	}
}

func TestRetryFailedChunk(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	err := fx.failed.Add(ctx, &domain.FailedChunk{
		ID: "40-45", Recipient: creator, FromBlock: 40, ToBlock: 45,
		Reason: "502 bad gateway", FailedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	candidates, err := fx.gate.RetryFailedChunk(ctx, creator, "40-45")
	if err != nil {
		t.Fatalf("RetryFailedChunk failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].TxHash != payHash {
		t.Fatalf("Expected the missed transfer, got %+v", candidates)
	}
	if n, _ := fx.failed.Count(ctx, creator); n != 0 {
		t.Errorf("Chunk must be resolved after a clean rescan, %d left", n)
	}

	if _, err := fx.gate.RetryFailedChunk(ctx, creator, "1-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Unknown chunk id must be not found, got %v", err)
	}
}

func TestFailedChunks_NoQueueConfigured(t *testing.T) {
	fx := newFixture(t)
	fx.gate.failed = nil

	if _, err := fx.gate.ListFailedChunks(context.Background(), creator); !errors.Is(err, ErrChunkQueueUnavailable) {
		t.Fatalf("Expected ErrChunkQueueUnavailable, got %v", err)
	}
	if _, err := fx.gate.RetryFailedChunk(context.Background(), creator, "1-2"); !errors.Is(err, ErrChunkQueueUnavailable) {
		t.Fatalf("Expected ErrChunkQueueUnavailable, got %v", err)
	}
}

func TestReconciler_SkipsAmbiguousAmount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Second item with the same price makes the amount ambiguous.
	if _, err := fx.gate.CreateItem(ctx, &domain.Item{
		PageID: fx.pageID, Title: "Other report", Kind: domain.ItemKindFixed, Price: "10.5",
	}); err != nil {
		t.Fatal(err)
	}

	r := NewReconciler(fx.gate, DefaultReconcilerConfig(), slog.New(slog.DiscardHandler))
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := fx.gate.GetPayment(ctx, payHash); err == nil {
		t.Fatal("Ambiguous candidate must not be auto-recorded")
	}
}
