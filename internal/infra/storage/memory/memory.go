// Package memory provides in-memory implementations of the storage
// repositories. They mirror the postgres semantics closely enough for
// service-level tests, including atomic insert-or-reject on tx hash.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
)

// Store holds all in-memory state behind one mutex, so the payment
// uniqueness check-and-insert is atomic just like the database's.
type Store struct {
	mu          sync.Mutex
	payments    map[string]*domain.PaymentRecord // keyed by tx hash
	items       map[string]*domain.Item
	pages       map[string]*domain.Page
	checkpoints map[string]*domain.ScanCheckpoint
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		payments:    make(map[string]*domain.PaymentRecord),
		items:       make(map[string]*domain.Item),
		pages:       make(map[string]*domain.Page),
		checkpoints: make(map[string]*domain.ScanCheckpoint),
	}
}

// -----------------------------------------------------------------------------
// Payment repository
// -----------------------------------------------------------------------------

type PaymentRepo struct {
	store *Store
}

func NewPaymentRepo(store *Store) *PaymentRepo {
	return &PaymentRepo{store: store}
}

func (r *PaymentRepo) Insert(ctx context.Context, p *domain.PaymentRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.payments[p.TxHash]; ok {
		return storage.ErrDuplicateTxHash
	}
	cp := *p
	cp.Amount = new(big.Int).Set(p.Amount)
	r.store.payments[p.TxHash] = &cp
	return nil
}

func (r *PaymentRepo) GetByTxHash(ctx context.Context, txHash string) (*domain.PaymentRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payments[txHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (r *PaymentRepo) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.payments[txHash]
	return ok, nil
}

func (r *PaymentRepo) ListByPayer(ctx context.Context, wallet string) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.PayerWallet == wallet })
}

func (r *PaymentRepo) ListByItem(ctx context.Context, itemID string) ([]*domain.PaymentRecord, error) {
	return r.filter(func(p *domain.PaymentRecord) bool { return p.ItemID == itemID })
}

func (r *PaymentRepo) filter(keep func(*domain.PaymentRecord) bool) ([]*domain.PaymentRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.PaymentRecord
	for _, p := range r.store.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *PaymentRepo) SumByItem(ctx context.Context, itemID string) (*big.Int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	sum := new(big.Int)
	for _, p := range r.store.payments {
		if p.ItemID == itemID {
			sum.Add(sum, p.Amount)
		}
	}
	return sum, nil
}

func (r *PaymentRepo) CountByItem(ctx context.Context, itemID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var count int64
	for _, p := range r.store.payments {
		if p.ItemID == itemID {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Item repository
// -----------------------------------------------------------------------------

type ItemRepo struct {
	store *Store
}

func NewItemRepo(store *Store) *ItemRepo {
	return &ItemRepo{store: store}
}

func (r *ItemRepo) Create(ctx context.Context, item *domain.Item) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *item
	r.store.items[item.ID] = &cp
	return nil
}

func (r *ItemRepo) Get(ctx context.Context, id string) (*domain.Item, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	item, ok := r.store.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return item, nil
}

func (r *ItemRepo) Update(ctx context.Context, item *domain.Item) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.items[item.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *item
	r.store.items[item.ID] = &cp
	return nil
}

func (r *ItemRepo) ListByPage(ctx context.Context, pageID string) ([]*domain.Item, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.Item
	for _, item := range r.store.items {
		if item.PageID == pageID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ItemRepo) ListByCreator(ctx context.Context, wallet string) ([]*domain.Item, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	owned := make(map[string]bool)
	for _, page := range r.store.pages {
		if page.CreatorWallet == wallet {
			owned[page.ID] = true
		}
	}
	var out []*domain.Item
	for _, item := range r.store.items {
		if owned[item.PageID] {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Page repository
// -----------------------------------------------------------------------------

type PageRepo struct {
	store *Store
}

func NewPageRepo(store *Store) *PageRepo {
	return &PageRepo{store: store}
}

func (r *PageRepo) Create(ctx context.Context, page *domain.Page) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *page
	r.store.pages[page.ID] = &cp
	return nil
}

func (r *PageRepo) Get(ctx context.Context, id string) (*domain.Page, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	page, ok := r.store.pages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return page, nil
}

func (r *PageRepo) ListByCreator(ctx context.Context, wallet string) ([]*domain.Page, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.Page
	for _, page := range r.store.pages {
		if page.CreatorWallet == wallet {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *PageRepo) DistinctCreators(ctx context.Context) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, page := range r.store.pages {
		if !seen[page.CreatorWallet] {
			seen[page.CreatorWallet] = true
			out = append(out, page.CreatorWallet)
		}
	}
	sort.Strings(out)
	return out, nil
}

// -----------------------------------------------------------------------------
// Checkpoint repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *Store
}

func NewCheckpointRepo(store *Store) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(ctx context.Context, recipient string) (*domain.ScanCheckpoint, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp, ok := r.store.checkpoints[recipient]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cp, nil
}

func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.ScanCheckpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if existing, ok := r.store.checkpoints[cp.Recipient]; ok && existing.LastBlock > cp.LastBlock {
		return nil
	}
	c := *cp
	r.store.checkpoints[cp.Recipient] = &c
	return nil
}
