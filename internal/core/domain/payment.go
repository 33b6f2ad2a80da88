package domain

import (
	"math/big"
	"time"
)

// PaymentRecord is a confirmed, ledgered payment. Records are created
// exactly once after verification and are never mutated or deleted.
// PayerWallet and TxHash are stored as lower-case hex; Amount is in
// minor units (wei for an 18-decimal token).
type PaymentRecord struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	PayerWallet string    `json:"payer_wallet"`
	TxHash      string    `json:"tx_hash"`
	Amount      *big.Int  `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}
