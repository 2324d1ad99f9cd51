package model

import "errors"

// Engine error taxonomy. Fatal errors reject the attempt; the rest are
// recovered locally with safe defaults or folded into the risk score.
var (
	// ErrInvalidCoordinate means lat/lon is outside the valid ranges. Fatal.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrNoActiveWorkLocation means there is no geofence to test against.
	// Surfaced to the caller as a configuration problem.
	ErrNoActiveWorkLocation = errors.New("no active work location")

	// ErrConfigurationMissing means no active risk configuration could be
	// loaded. Recovered locally with fail-safe defaults.
	ErrConfigurationMissing = errors.New("risk configuration missing")

	// ErrInvalidConfiguration means a configuration snapshot failed
	// load-time validation.
	ErrInvalidConfiguration = errors.New("invalid risk configuration")

	// ErrDeviceLimitExceeded rejects a new-device registration under the
	// strict policy. User-visible, not a block.
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")

	// ErrDeviceNotFound means no binding exists for the (user, device) pair.
	ErrDeviceNotFound = errors.New("device binding not found")

	// ErrUserBlocked is terminal for the duration of the block window.
	ErrUserBlocked = errors.New("user is blocked")

	// ErrBlockNotFound means no active block exists for the user.
	ErrBlockNotFound = errors.New("block record not found")
)
