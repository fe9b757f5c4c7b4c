package scheduler

import "fmt"

// resourceExhaustedError signals a full wait queue for 429 mapping.
type resourceExhaustedError struct {
	backend string
	reason  string
}

func (e resourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted: %s: %s", e.backend, e.reason)
}

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(backend, reason string) error {
	return resourceExhaustedError{backend: backend, reason: reason}
}

// IsResourceExhausted reports whether err indicates backpressure (return 429).
func IsResourceExhausted(err error) bool {
	_, ok := err.(resourceExhaustedError)
	return ok
}

// admissionTimeoutError signals the caller deadline expired while waiting for
// admission or launch.
type admissionTimeoutError struct {
	backend string
	phase   string
}

func (e admissionTimeoutError) Error() string {
	return fmt.Sprintf("admission timeout: %s (%s)", e.backend, e.phase)
}

// ErrAdmissionTimeout constructs an admissionTimeoutError.
func ErrAdmissionTimeout(backend, phase string) error {
	return admissionTimeoutError{backend: backend, phase: phase}
}

// IsAdmissionTimeout reports whether err indicates an expired admission wait.
func IsAdmissionTimeout(err error) bool {
	_, ok := err.(admissionTimeoutError)
	return ok
}

// backendCrashedError signals the serving process died with the request in
// flight. Not auto-retried on a different instance.
type backendCrashedError struct{ backend string }

func (e backendCrashedError) Error() string { return "backend crashed: " + e.backend }

// ErrBackendCrashed constructs a backendCrashedError.
func ErrBackendCrashed(backend string) error { return backendCrashedError{backend: backend} }

// IsBackendCrashed reports whether err indicates an unexpected process death.
func IsBackendCrashed(err error) bool {
	_, ok := err.(backendCrashedError)
	return ok
}

// launchFailedError signals the health check never succeeded within the
// launch timeout. Surfaced to the triggering request and any queued followers.
type launchFailedError struct {
	backend string
	err     error
}

func (e launchFailedError) Error() string {
	return fmt.Sprintf("launch failed: %s: %v", e.backend, e.err)
}

func (e launchFailedError) Unwrap() error { return e.err }

// ErrLaunchFailed constructs a launchFailedError wrapping the launch cause.
func ErrLaunchFailed(backend string, err error) error {
	return launchFailedError{backend: backend, err: err}
}

// IsLaunchFailed reports whether err indicates a failed instance launch.
func IsLaunchFailed(err error) bool {
	_, ok := err.(launchFailedError)
	return ok
}

// shuttingDownError signals the scheduler no longer accepts work.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "scheduler is shutting down" }

// IsShuttingDown reports whether err indicates daemon shutdown.
func IsShuttingDown(err error) bool {
	_, ok := err.(shuttingDownError)
	return ok
}
