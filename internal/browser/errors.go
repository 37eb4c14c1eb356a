package browser

import "errors"

// Session-level failures abort the session; job-level failures are recorded
// on the individual job and the session keeps going.
var (
	// ErrLaunchFailure means the browser process never reported readiness.
	ErrLaunchFailure = errors.New("browser launch failure")

	// ErrNavigationTimeout means the page did not finish loading within the
	// job timeout.
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrNavigationError means the browser rejected or failed the navigation.
	ErrNavigationError = errors.New("navigation error")

	// ErrProcessCrashed means the browser process exited while jobs were
	// still pending.
	ErrProcessCrashed = errors.New("browser process crashed")
)
