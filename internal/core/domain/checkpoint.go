package domain

import "time"

// ScanCheckpoint remembers the last block fully scanned for a
// recipient wallet, so a reconciliation scan can resume after a crash
// or cancellation without re-walking the whole range.
type ScanCheckpoint struct {
	Recipient string    `json:"recipient"`
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}
