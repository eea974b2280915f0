package deploy

import (
	"errors"
	"fmt"
	"time"
)

// Admission errors returned before an attempt is scheduled.
var (
	ErrNotOwner      = errors.New("deploy: project is not owned by requester")
	ErrEmptyProject  = errors.New("deploy: project has no files")
	ErrQuotaExceeded = errors.New("deploy: concurrent deployment quota reached")
)

// ErrMissingSourceCredential is the configuration error raised when no
// platform-level source-hosting credential is available. It is fatal and
// non-retryable, but compensation still runs for effects applied before it.
var ErrMissingSourceCredential = errors.New("deploy: source hosting credential not configured")

// ExternalServiceError wraps a failed provisioning or source-hosting call.
type ExternalServiceError struct {
	Platform string
	Op       string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// BuildFailureError reports an explicit terminal failure status observed
// while polling the remote build.
type BuildFailureError struct {
	Status string
}

func (e *BuildFailureError) Error() string {
	return fmt.Sprintf("remote build failed with status %s", e.Status)
}

// BuildTimeoutError reports that no terminal status was observed before the
// hard poll timeout elapsed.
type BuildTimeoutError struct {
	Timeout time.Duration
}

func (e *BuildTimeoutError) Error() string {
	return fmt.Sprintf("remote build did not finish within %s", e.Timeout)
}

// PersistenceError wraps a failure of the atomic success-branch database
// write. No rows exist afterward, but remote effects still require
// compensation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist deployment outcome: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
