package syncer

import "errors"

// Failure taxonomy shared by every adapter. Adapters wrap these with
// fmt.Errorf("...: %w") so callers can test them with errors.Is.
var (
	// ErrUserCancelled means the user backed out of a picker or consent
	// screen. It is reported as absence, never as a failed sync.
	ErrUserCancelled = errors.New("user cancelled")
	// ErrPermissionDenied means a capability or credential check failed.
	// The sync can be retried once access is granted.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound means the remote file or ref does not exist yet.
	ErrNotFound = errors.New("not found")
	// ErrTransport wraps network and remote API failures.
	ErrTransport = errors.New("transport failure")
	// ErrPartialWrite means an adapter stopped part way through a multi-step
	// write and left earlier steps in place.
	ErrPartialWrite = errors.New("partial write")
)

// Kind names the taxonomy entry err belongs to, for status display.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserCancelled):
		return "cancelled"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPartialWrite):
		return "partial_write"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

// expected reports conditions that never cross the orchestrator boundary as
// errors.
func expected(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrNotFound)
}
