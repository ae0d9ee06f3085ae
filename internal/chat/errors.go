package chat

import "errors"

// Synchronous rejections. Provider failures and ledger races are absorbed
// by the turn pipeline and never surface as errors.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrContentBlocked      = errors.New("content blocked")
	ErrInsufficientCredits = errors.New("insufficient credits")
)
