package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")
	ErrDuplicate     = errors.New("duplicate request")
	ErrInvalidIntent = errors.New("invalid order intent")
	ErrRiskLimit     = errors.New("risk limit exceeded")

	ErrMarketNotFound     = errors.New("market not found")
	ErrMetadataResolution = errors.New("market metadata unresolvable")
	ErrPriceUnavailable   = errors.New("price unavailable from all providers")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrNonceConflict      = errors.New("invalid nonce")
	ErrSubmission         = errors.New("order submission failed")
	ErrLeverageConfig     = errors.New("leverage configuration failed")
	ErrUnsupportedParams  = errors.New("unsupported parameters")
)
