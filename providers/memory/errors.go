package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is matched by every DuplicateIDError.
	ErrDuplicateID = errors.New("memory: duplicate message id")

	// ErrNilMessage is returned when a nil message is passed to Put or PutMany.
	ErrNilMessage = errors.New("memory: nil message")

	// ErrIDExhausted is returned when the IDGenerator keeps producing empty
	// ids or ids it already produced, all of them taken.
	ErrIDExhausted = errors.New("memory: could not generate an unused message id")
)

// DuplicateIDError reports a caller-supplied id that is already stored, or
// that appears twice in one batch.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("memory: duplicate message id %q", e.ID)
}

// Is makes errors.Is(err, ErrDuplicateID) true for any DuplicateIDError.
func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// IsDuplicateID reports whether err is, or wraps, a duplicate id rejection.
func IsDuplicateID(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}
