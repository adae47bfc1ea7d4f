package domain

import "github.com/cockroachdb/errors"

// Failure classes. Concrete errors are marked with one of these so callers
// can branch with errors.Is without parsing messages.
var (
	ErrValidation        = errors.New("invalid capture job")
	ErrPolicyDenied      = errors.New("capture denied by policy")
	ErrBackendParameters = errors.New("invalid parameters for the capture")
	ErrBackendFault      = errors.New("capture backend fault")
	ErrEnqueueLost       = errors.New("capture never reached the backend")
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoTarget          = errors.Mark(errors.New("no URL or document provided"), ErrValidation)
	ErrIncompleteCapture = errors.New("capture produced neither a HAR nor a downloaded file")
	ErrReconcileBusy     = errors.New("a reconcile pass is already running")
)

// Invalid builds a validation error for a malformed job field.
func Invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Denied builds a policy denial carrying a user-facing reason.
func Denied(reason string) error {
	return errors.Mark(errors.New(reason), ErrPolicyDenied)
}
