package sharing

import "errors"

// ForbiddenError is a denial that names its reason so callers can remediate
// (wrong tier, blocked, missing permission). Private resources are never
// reported this way; those denials look like a missing resource instead.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "access denied: " + e.Reason
}

// ValidationError reports malformed or inapplicable input, including
// workflow preconditions such as a duplicate pending request or a revoke of
// an already-revoked grant.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// ConflictError reports a state conflict: capacity exhausted, a decision on
// a non-pending request, or a grant that already exists.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
