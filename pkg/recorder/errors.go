package recorder

import (
	"errors"
	"fmt"

	"mediarec/pkg/encoder"
)

// Errors.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrNotImplemented   = errors.New("not implemented")
	ErrLicenseInvalid   = errors.New("license invalid")
	ErrLicenseMissing   = errors.New("license missing")
	ErrEncodingFailed   = errors.New("encoding failed")
)

// statusError maps an encoder status to an error,
// nil for success and warnings.
func statusError(status encoder.Status) error {
	switch status {
	case encoder.StatusOK, encoder.StatusLimitedPlan:
		return nil
	case encoder.StatusInvalidArgument:
		return ErrInvalidArgument
	case encoder.StatusInvalidOperation:
		return ErrInvalidOperation
	case encoder.StatusNotImplemented:
		return ErrNotImplemented
	case encoder.StatusInvalidSession, encoder.StatusMissingHub:
		return fmt.Errorf("%w: %v", ErrLicenseMissing, status)
	case encoder.StatusInvalidHub, encoder.StatusInvalidPlan:
		return fmt.Errorf("%w: %v", ErrLicenseInvalid, status)
	}
	return fmt.Errorf("%w: %v", ErrInvalidOperation, status)
}
