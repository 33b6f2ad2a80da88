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

// ItemRepo implements storage.ItemRepository using PostgreSQL.
type ItemRepo struct {
	db *DB
}

// NewItemRepo creates a new PostgreSQL item repository.
func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

type itemRow struct {
	ID          string         `db:"id"`
	PageID      string         `db:"page_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Kind        string         `db:"kind"`
	Price       sql.NullString `db:"price"`
	ContentURL  string         `db:"content_url"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *itemRow) toDomain() *domain.Item {
	item := &domain.Item{
		ID:          r.ID,
		PageID:      r.PageID,
		Title:       r.Title,
		Description: r.Description,
		Kind:        domain.ItemKind(r.Kind),
		ContentURL:  r.ContentURL,
		CreatedAt:   r.CreatedAt,
	}
	if r.Price.Valid {
		item.Price = r.Price.String
	}
	return item
}

func priceColumn(item *domain.Item) sql.NullString {
	if item.Kind == domain.ItemKindFixed {
		return sql.NullString{String: item.Price, Valid: true}
	}
	return sql.NullString{}
}

// Create saves a new item.
func (r *ItemRepo) Create(ctx context.Context, item *domain.Item) error {
	query := `
		INSERT INTO items (id, page_id, title, description, kind, price, content_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.PageID, item.Title, item.Description,
		string(item.Kind), priceColumn(item), item.ContentURL, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// Get retrieves an item by id.
func (r *ItemRepo) Get(ctx context.Context, id string) (*domain.Item, error) {
	query := `
		SELECT id, page_id, title, description, kind, price, content_url, created_at
		FROM items
		WHERE id = $1
	`
	var row itemRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return row.toDomain(), nil
}

// Update rewrites an item's mutable fields.
func (r *ItemRepo) Update(ctx context.Context, item *domain.Item) error {
	query := `
		UPDATE items
		SET title = $2, description = $3, kind = $4, price = $5, content_url = $6
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		item.ID, item.Title, item.Description,
		string(item.Kind), priceColumn(item), item.ContentURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByPage retrieves all items on a page, oldest first.
func (r *ItemRepo) ListByPage(ctx context.Context, pageID string) ([]*domain.Item, error) {
	query := `
		SELECT id, page_id, title, description, kind, price, content_url, created_at
		FROM items
		WHERE page_id = $1
		ORDER BY created_at ASC
	`
	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, query, pageID); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]*domain.Item, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toDomain())
	}
	return items, nil
}

// ListByCreator retrieves all items across a creator's pages.
func (r *ItemRepo) ListByCreator(ctx context.Context, wallet string) ([]*domain.Item, error) {
	query := `
		SELECT i.id, i.page_id, i.title, i.description, i.kind, i.price, i.content_url, i.created_at
		FROM items i
		JOIN pages p ON p.id = i.page_id
		WHERE p.creator_wallet = $1
		ORDER BY i.created_at ASC
	`
	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, query, wallet); err != nil {
		return nil, fmt.Errorf("failed to list items by creator: %w", err)
	}

	items := make([]*domain.Item, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toDomain())
	}
	return items, nil
}
