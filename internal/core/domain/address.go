package domain

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrInvalidTxHash  = errors.New("invalid transaction hash")

	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashRe  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// NormalizeAddress canonicalizes a wallet address to lower-case hex.
// Wallet equality everywhere in the system is case-insensitive, so the
// normalized form is the only one stored or compared.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !addressRe.MatchString(addr) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(addr), nil
}

// NormalizeTxHash canonicalizes a 32-byte transaction hash to
// lower-case hex.
func NormalizeTxHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	if !txHashRe.MatchString(hash) {
		return "", ErrInvalidTxHash
	}
	return strings.ToLower(hash), nil
}
