package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateAttempt = errors.New("active attempt already exists for player and run")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrInvalidAddress   = errors.New("invalid player address")
	ErrInvalidXP        = errors.New("xp earned must be positive")
	ErrInvalidSeason    = errors.New("season must be positive")
	ErrInvalidRunID     = errors.New("run id is required")
	ErrInvalidState     = errors.New("attempt is not in a state that accepts this operation")
	ErrProofRejected    = errors.New("proof rejected")
	ErrInvalidRange     = errors.New("invalid block range")
	ErrNotFound         = errors.New("not found")
	ErrQueueClosed      = errors.New("queue is shut down")
)

// MintError is a failed on-chain mint. Permanent errors will fail the same way
// if retried (reverts, already minted, bad arguments).
type MintError struct {
	Code      int
	Message   string
	Permanent bool
	Err       error
}

func (e *MintError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mint failed (code %d): %s", e.Code, e.Message)
	}
	return "mint failed: " + e.Message
}

func (e *MintError) Unwrap() error {
	return e.Err
}

// IsPermanentMintError reports whether err carries a permanent MintError.
func IsPermanentMintError(err error) bool {
	var me *MintError
	return errors.As(err, &me) && me.Permanent
}
