package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/storage"
)

// PageRepo implements storage.PageRepository using PostgreSQL.
type PageRepo struct {
	db *DB
}

// NewPageRepo creates a new PostgreSQL page repository.
func NewPageRepo(db *DB) *PageRepo {
	return &PageRepo{db: db}
}

type pageRow struct {
	ID            string    `db:"id"`
	CreatorWallet string    `db:"creator_wallet"`
	Title         string    `db:"title"`
	Description   string    `db:"description"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *pageRow) toDomain() *domain.Page {
	return &domain.Page{
		ID:            r.ID,
		CreatorWallet: r.CreatorWallet,
		Title:         r.Title,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
	}
}

// Create saves a new page.
func (r *PageRepo) Create(ctx context.Context, page *domain.Page) error {
	query := `
		INSERT INTO pages (id, creator_wallet, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		page.ID, page.CreatorWallet, page.Title, page.Description, page.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	return nil
}

// Get retrieves a page by id.
func (r *PageRepo) Get(ctx context.Context, id string) (*domain.Page, error) {
	query := `
		SELECT id, creator_wallet, title, description, created_at
		FROM pages
		WHERE id = $1
	`
	var row pageRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return row.toDomain(), nil
}

// ListByCreator retrieves all pages owned by a wallet, newest first.
func (r *PageRepo) ListByCreator(ctx context.Context, wallet string) ([]*domain.Page, error) {
	query := `
		SELECT id, creator_wallet, title, description, created_at
		FROM pages
		WHERE creator_wallet = $1
		ORDER BY created_at DESC
	`
	var rows []pageRow
	if err := r.db.SelectContext(ctx, &rows, query, wallet); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	pages := make([]*domain.Page, 0, len(rows))
	for i := range rows {
		pages = append(pages, rows[i].toDomain())
	}
	return pages, nil
}

// DistinctCreators returns every wallet that owns at least one page.
// The reconciliation sweep scans each of these as a payment recipient.
func (r *PageRepo) DistinctCreators(ctx context.Context) ([]string, error) {
	var wallets []string
	query := `SELECT DISTINCT creator_wallet FROM pages ORDER BY creator_wallet`
	if err := r.db.SelectContext(ctx, &wallets, query); err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	return wallets, nil
}
