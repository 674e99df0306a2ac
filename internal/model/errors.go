package model

import "errors"

// Domain errors surfaced to callers. Callers branch with errors.Is.
var (
	// ErrInsufficientFunds rejects a buy whose cost plus fee exceeds the
	// user's cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings rejects a sell of more than the net held quantity.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrPriceUnavailable means no current or cached price exists for a coin.
	// Non-fatal for portfolio reads; the holding is reported unvalued.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrStoreUnavailable wraps a failed store read or write. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAlertNotFound is returned for operations on an unknown alert ID.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrCoinNotFound is returned when the feed knows nothing about a coin ID.
	ErrCoinNotFound = errors.New("coin not found")

	// ErrInvalidTrade rejects a trade with non-positive quantity or price,
	// or a negative fee.
	ErrInvalidTrade = errors.New("invalid trade")

	// ErrInvalidAlert rejects an alert with a non-positive target price or
	// an unknown alert type.
	ErrInvalidAlert = errors.New("invalid alert")
)
