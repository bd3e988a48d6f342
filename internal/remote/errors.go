package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling with errors.Is.
var (
	// ErrUnreachable marks transient failures: timeouts, refused
	// connections, 5xx responses. Safe to retry on the next trigger.
	ErrUnreachable = errors.New("backend unreachable")

	// ErrRejected marks a validation or constraint failure from the
	// backend. Retrying the same payload will fail again.
	ErrRejected = errors.New("backend rejected request")

	// ErrUnauthorized marks an authentication failure.
	ErrUnauthorized = errors.New("unauthorized")
)

// RemoteError carries the HTTP context of a failed backend call.
type RemoteError struct {
	Op     string // "select", "insert", "update", "upsert", "visible_rows"
	Table  string
	Status int    // HTTP status code, 0 for transport failures
	Detail string // server message if any
	Err    error  // sentinel classification
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Op, e.Table, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Table, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Transient reports whether the error is worth retrying: the operation
// stays pending and attempts are incremented, never escalated.
func Transient(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
