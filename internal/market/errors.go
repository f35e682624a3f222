package market

import "errors"

// Engine failures are plain return values the command adapters branch on.
// None of them leaves a partial mutation behind.
var (
	ErrInvalidAmount        = errors.New("amount must be positive with limited precision")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrOnCooldown           = errors.New("buying is on cooldown until the next price update")
	ErrSelfTransfer         = errors.New("cannot transfer to yourself")
)
