package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBlocked is the error returned when a policer denies
// a request.
var ErrBlocked = errors.New("request blocked")

// A BlockedError carries the reasons of a deny.
// It matches ErrBlocked with errors.Is.
type BlockedError struct {
	Reasons []string
}

// NewBlockedError returns a new *BlockedError. If no reason
// is given, GenericDenyReason is used.
func NewBlockedError(reasons ...string) *BlockedError {

	if len(reasons) == 0 {
		reasons = []string{GenericDenyReason}
	}

	return &BlockedError{Reasons: reasons}
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBlocked, strings.Join(e.Reasons, ", "))
}

func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}
