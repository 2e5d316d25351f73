package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
	ErrEmptyContent     = errors.New("signal content is empty")
	ErrEmptyCategory    = errors.New("signal category is empty")
	ErrNegativePrice    = errors.New("signal price is negative")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrAlreadySettled   = errors.New("signal already settled")
	ErrNotPending       = errors.New("signal is not pending")
	ErrAlreadyUnlocked  = errors.New("signal already unlocked by buyer")
	ErrOwnSignal        = errors.New("cannot purchase own signal")
	ErrNotBuyer         = errors.New("account is not a buyer")
	ErrCheckoutDeclined = errors.New("checkout declined")
	ErrInvalidSegment   = errors.New("unknown buyer segment")
	ErrProvider         = errors.New("provider unavailable")
)
