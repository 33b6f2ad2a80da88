package domain

import "time"

// Page is a creator-owned collection of purchasable items.
type Page struct {
	ID            string    `json:"id"`
	CreatorWallet string    `json:"creator_wallet"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
