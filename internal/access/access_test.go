package access

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
	"github.com/paymnee/paygate/internal/infra/storage/memory"
)

const (
	walletLower = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	walletMixed = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	txHash      = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

func setup(t *testing.T) (*Resolver, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	resolver := New(memory.NewItemRepo(store), memory.NewPaymentRepo(store), slog.New(slog.DiscardHandler))

	item := &domain.Item{
		ID:         "item-1",
		PageID:     "page-1",
		Title:      "Guide",
		Kind:       domain.ItemKindFixed,
		Price:      "3",
		ContentURL: "https://cdn.example.com/guide.pdf",
		CreatedAt:  time.Now(),
	}
	if err := memory.NewItemRepo(store).Create(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	return resolver, store
}

func pay(t *testing.T, store *memory.Store) {
	t.Helper()
	err := memory.NewPaymentRepo(store).Insert(context.Background(), &domain.PaymentRecord{
		ID:          "pay-1",
		ItemID:      "item-1",
		PayerWallet: walletLower,
		TxHash:      txHash,
		Amount:      big.NewInt(3_000_000),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCheck_DeniedWithoutPayment(t *testing.T) {
	resolver, _ := setup(t)

	d, err := resolver.Check(context.Background(), walletLower, "item-1")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Granted {
		t.Fatal("Access must be denied before payment")
	}
	if d.Reason != ReasonNoPayment {
		t.Errorf("Expected reason %s, got %s", ReasonNoPayment, d.Reason)
	}
	if d.ContentURL != "" {
		t.Error("Denial must not leak the content URL")
	}
}

func TestCheck_GrantedAfterPayment(t *testing.T) {
	resolver, store := setup(t)
	pay(t, store)

	d, err := resolver.Check(context.Background(), walletLower, "item-1")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Granted {
		t.Fatal("Access must be granted after payment")
	}
	if d.Reason != ReasonPaymentVerified {
		t.Errorf("Expected reason %s, got %s", ReasonPaymentVerified, d.Reason)
	}
	if d.ContentURL != "https://cdn.example.com/guide.pdf" {
		t.Errorf("Expected content URL, got %q", d.ContentURL)
	}
	if d.Payment == nil || d.Payment.TxHash != txHash {
		t.Error("Decision must carry the granting payment")
	}
}

func TestCheck_CaseInsensitiveWallet(t *testing.T) {
	resolver, store := setup(t)
	pay(t, store)

	d, err := resolver.Check(context.Background(), walletMixed, "item-1")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Granted {
		t.Fatal("Mixed-case wallet must match the lower-case ledger record")
	}
}

func TestCheck_AccessIsPermanent(t *testing.T) {
	resolver, store := setup(t)
	pay(t, store)

	// Repeated checks keep granting; nothing consumes the record.
	for range 3 {
		d, err := resolver.Check(context.Background(), walletLower, "item-1")
		if err != nil {
			t.Fatal(err)
		}
		if !d.Granted {
			t.Fatal("Granted access must persist")
		}
	}
}

func TestCheck_UnknownItemIsError(t *testing.T) {
	resolver, _ := setup(t)

	_, err := resolver.Check(context.Background(), walletLower, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestCheck_InvalidWallet(t *testing.T) {
	resolver, _ := setup(t)

	if _, err := resolver.Check(context.Background(), "not-a-wallet", "item-1"); err == nil {
		t.Fatal("Expected error for malformed wallet")
	}
}

func TestCheck_OtherWalletStillDenied(t *testing.T) {
	resolver, store := setup(t)
	pay(t, store)

	d, err := resolver.Check(context.Background(), "0xdddddddddddddddddddddddddddddddddddddddd", "item-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Granted {
		t.Fatal("Another wallet's payment must not grant access")
	}
}
