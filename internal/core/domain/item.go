package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind distinguishes fixed-price items from open-amount ones.
type ItemKind string

const (
	ItemKindFixed ItemKind = "fixed"
	ItemKindOpen  ItemKind = "open"
)

var (
	ErrPriceRequired  = errors.New("fixed items require a price")
	ErrPriceForbidden = errors.New("open items must not carry a price")
	ErrPriceInvalid   = errors.New("price must be a positive decimal")
)

// Item is something purchasable. Fixed items carry a price in human
// units (decimal string); open items accept any positive amount.
type Item struct {
	ID          string    `json:"id"`
	PageID      string    `json:"page_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Kind        ItemKind  `json:"kind"`
	Price       string    `json:"price,omitempty"`
	ContentURL  string    `json:"content_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate enforces the kind/price invariant: fixed implies a positive
// decimal price, open implies no price at all.
func (i *Item) Validate() error {
	switch i.Kind {
	case ItemKindFixed:
		if i.Price == "" {
			return ErrPriceRequired
		}
		d, err := decimal.NewFromString(i.Price)
		if err != nil || d.Sign() <= 0 {
			return ErrPriceInvalid
		}
	case ItemKindOpen:
		if i.Price != "" {
			return ErrPriceForbidden
		}
	default:
		return errors.New("unknown item kind: " + string(i.Kind))
	}
	return nil
}
