package stars

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient stars")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrUnknownArea         = errors.New("unknown star area")
	ErrInvalidDay          = errors.New("invalid day")
	ErrUnknownChild        = errors.New("unknown child")
	ErrUnsupportedSchema   = errors.New("unsupported cache schema version")
	ErrAlreadyMigrated     = errors.New("star cache already has daily data")
)

// insufficientStarsMessage is the user-facing text of a failed spend.
const insufficientStarsMessage = "Insufficient stars"
