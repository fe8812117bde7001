package domain

import "errors"

var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrVersionConflict     = errors.New("auction version conflict")
	ErrInvalidAuction      = errors.New("invalid auction")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")

	// ErrInvariantViolation means a commit left the projection inconsistent.
	// It is never retried.
	ErrInvariantViolation = errors.New("auction invariant violated")
	ErrAuctionHalted      = errors.New("auction halted after invariant violation")
)
