package domain

import "math/big"

// Transfer is a decoded ERC-20 Transfer event.
type Transfer struct {
	TxHash      string   `json:"tx_hash"`
	BlockNumber uint64   `json:"block_number"`
	LogIndex    uint     `json:"log_index"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Amount      *big.Int `json:"amount"`
}
