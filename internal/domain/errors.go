package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProviderFailure     = errors.New("provider failure")
	ErrNoUsableAsset       = errors.New("result produced but no usable asset")
	ErrResultAssetsTimeout = errors.New("timed out waiting for result assets")
	ErrOperationTimeout    = errors.New("timed out waiting for operation")
	ErrMissingImage        = errors.New("no image available for world generation")
	ErrJobTerminal         = errors.New("job already terminal")
)
