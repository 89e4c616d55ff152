package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a store failure that a reconnect may fix.
	ErrUnavailable = errors.New("store unavailable")
	// ErrIntegrity marks a store that broke its own contract. Not recoverable.
	ErrIntegrity = errors.New("store integrity violation")
)

// MalformedError is a record that cannot be promoted because the producer
// left out its queue or class.
type MalformedError struct {
	Record *Record
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Record != nil && len(e.Record.Raw) > 0 {
		return fmt.Sprintf("malformed delayed record (%s): %s", e.Reason, e.Record.Raw)
	}
	return "malformed delayed record: " + e.Reason
}

// Unavailable tags err as a transient store failure.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// IsMalformed reports whether err is made only of malformed-record errors.
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		errs := u.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, e := range errs {
			if !IsMalformed(e) {
				return false
			}
		}
		return true
	}
	var me *MalformedError
	return errors.As(err, &me)
}
