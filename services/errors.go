package services

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the transport layer. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrGroupNotFound       = fmt.Errorf("%w: group", ErrNotFound)
	ErrUnknownActionKind   = errors.New("unknown action kind")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGroupFull           = errors.New("group is full")
	ErrInvalidInvite       = errors.New("invalid or consumed invite")
	ErrNotAMember          = errors.New("not a member of this group")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrStorage             = errors.New("storage failure")
)

// InsufficientBalanceError reports the balance that was available when a redemption was refused.
type InsufficientBalanceError struct {
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr wraps a persistence failure. Domain errors pass through untouched so that
// errors returned from inside a transaction callback keep their kind.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		ErrValidation, ErrNotFound, ErrUnknownActionKind, ErrInsufficientBalance, ErrGroupFull,
		ErrInvalidInvite, ErrNotAMember, ErrForbidden, ErrConflict, ErrStorage,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
