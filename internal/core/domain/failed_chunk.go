package domain

import "time"

// FailedChunk is a block range that exhausted its retry budget during a
// scan. It is parked in a queue so an operator or a later sweep can
// retry it without losing track of the gap.
type FailedChunk struct {
	ID          string    `json:"id"`
	Recipient   string    `json:"recipient"`
	FromBlock   uint64    `json:"from_block"`
	ToBlock     uint64    `json:"to_block"`
	Reason      string    `json:"reason"`
	RetryCount  int       `json:"retry_count"`
	FailedAt    time.Time `json:"failed_at"`
	LastAttempt time.Time `json:"last_attempt"`
}
