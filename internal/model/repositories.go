package model

import (
	"context"
	"time"
)

// -------------------- REPOSITORY INTERFACES --------------------

// DeviceBindingRepository defines persistence for device-to-user bindings.
type DeviceBindingRepository interface {
	// UpsertBinding is idempotent on (user, device): a racing registration
	// observes the already-created binding instead of erroring.
	UpsertBinding(ctx context.Context, binding *DeviceBinding) error
	GetBinding(ctx context.Context, userID, deviceID string) (*DeviceBinding, error)
	ListUserBindings(ctx context.Context, userID string) ([]*DeviceBinding, error)
	CountActiveBindings(ctx context.Context, userID string) (int, error)
	VerifyBinding(ctx context.Context, userID, deviceID string, verifiedAt time.Time) error
	RevokeBinding(ctx context.Context, userID, deviceID, reason string) error
	// PurgeInactiveBindings removes inactive bindings registered before the
	// cutoff. Idempotent; safe to interrupt and re-run.
	PurgeInactiveBindings(ctx context.Context, cutoff time.Time) (int, error)
}

// BlockRecordRepository defines persistence for user block records.
type BlockRecordRepository interface {
	CreateBlock(ctx context.Context, record *BlockRecord) error
	GetActiveBlock(ctx context.Context, userID string) (*BlockRecord, error)
	LiftBlock(ctx context.Context, userID, liftedBy string) error
	// ExpireBlocks deactivates blocks whose expiry has passed. Idempotent.
	ExpireBlocks(ctx context.Context, now time.Time) (int, error)
}

// RiskConfigurationRepository defines persistence for the versioned
// configuration. Exactly one record is active at a time.
type RiskConfigurationRepository interface {
	LoadActiveConfiguration(ctx context.Context) (*RiskConfiguration, error)
	SaveConfiguration(ctx context.Context, cfg *RiskConfiguration) error
}

// WorkLocationRepository reads the active geofence set.
type WorkLocationRepository interface {
	ListActiveLocations(ctx context.Context) ([]*WorkLocation, error)
	SaveLocation(ctx context.Context, loc *WorkLocation) error
}

// AttemptRepository persists attempts and verdicts for audit. Records are
// write-once; they are never mutated.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *AttendanceAttempt, verdict *Verdict) error
	GetLastAttempt(ctx context.Context, userID string) (*AttendanceAttempt, error)
	// ListRecentPositions returns the user's last reported coordinates,
	// newest first, for the coordinate-anomaly check.
	ListRecentPositions(ctx context.Context, userID string, limit int) ([]Coordinate, error)
	ListUserVerdicts(ctx context.Context, userID string, limit int) ([]*Verdict, error)
}

// -------------------- CACHE INTERFACES --------------------

// ConfigCache caches the active configuration snapshot for a short TTL to
// bound external-store latency without delaying admin hot-reloads.
type ConfigCache interface {
	GetActiveConfiguration(ctx context.Context) (*RiskConfiguration, error)
	SetActiveConfiguration(ctx context.Context, cfg *RiskConfiguration, ttl time.Duration) error
	InvalidateConfiguration(ctx context.Context) error
}

// BlockCache provides fast block lookups on the request path.
type BlockCache interface {
	SetBlock(ctx context.Context, record *BlockRecord, ttl time.Duration) error
	GetBlock(ctx context.Context, userID string) (*BlockRecord, error)
	ClearBlock(ctx context.Context, userID string) error
}

// RegistrationLock serializes first-time device registration per
// (user, device) pair.
type RegistrationLock interface {
	Acquire(ctx context.Context, userID, deviceID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, deviceID string) error
}
