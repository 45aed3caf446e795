package grid

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds   = errors.New("position out of bounds")
	ErrOccupied      = errors.New("position occupied")
	ErrEmpty         = errors.New("position empty")
	ErrUnknownBlock  = errors.New("unknown block id")
	ErrUnknownType   = errors.New("unknown block type")
	ErrInvalidTier   = errors.New("tier must be >= 1")
	ErrCorrupted     = errors.New("grid store corrupted; reseed required")
	ErrDuplicateSeed = errors.New("duplicate block in seed")
)

// ConsistencyError reports a failed rollback. The store that returned it is
// corrupted and refuses further mutations until Reset or Seed.
type ConsistencyError struct {
	Op      string
	BlockID BlockID
	From    Pos
	To      Pos
	Cause   error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("grid %s block=%d %s->%s: rollback failed: %v", e.Op, e.BlockID, e.From, e.To, e.Cause)
}

func (e *ConsistencyError) Unwrap() []error { return []error{ErrCorrupted, e.Cause} }

// IsValidation reports whether err is a recoverable request error.
func IsValidation(err error) bool {
	if err == nil || errors.Is(err, ErrCorrupted) {
		return false
	}
	return errors.Is(err, ErrOutOfBounds) ||
		errors.Is(err, ErrOccupied) ||
		errors.Is(err, ErrEmpty) ||
		errors.Is(err, ErrUnknownBlock) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrInvalidTier)
}
