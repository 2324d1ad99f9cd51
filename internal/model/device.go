package model

import "time"

// -------------------- DEVICE BINDING --------------------

// DeviceBinding ties a device install to a user. Under the strict policy the
// count of active bindings per user never exceeds MaxDevicesPerUser; under
// flexible the limit is advisory only.
type DeviceBinding struct {
	UserID        string     `json:"user_id" db:"user_id"`
	DeviceID      string     `json:"device_id" db:"device_id"`
	UserBucket    int        `json:"user_bucket" db:"user_bucket"`
	RegisteredAt  time.Time  `json:"registered_at" db:"registered_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	BindTokenHash string     `json:"-" db:"bind_token_hash"`
	RevokedReason string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
}

// Verified reports whether the binding has passed admin approval.
func (b *DeviceBinding) Verified() bool {
	return b.VerifiedAt != nil && !b.VerifiedAt.IsZero()
}

// DevicePolicy controls how the registry treats new devices.
type DevicePolicy string

const (
	DevicePolicyStrict   DevicePolicy = "strict"
	DevicePolicyWarn     DevicePolicy = "warn"
	DevicePolicyFlexible DevicePolicy = "flexible"
)

// ValidDevicePolicy reports whether p is a known policy value.
func ValidDevicePolicy(p DevicePolicy) bool {
	switch p {
	case DevicePolicyStrict, DevicePolicyWarn, DevicePolicyFlexible:
		return true
	}
	return false
}

// -------------------- BLOCK RECORD --------------------

// BlockRecord is created when the decided action is block. Subsequent
// attempts for the user short-circuit to a block verdict until the record
// expires or an administrator lifts it.
type BlockRecord struct {
	BlockID       string     `json:"block_id" db:"block_id"`
	UserID        string     `json:"user_id" db:"user_id"`
	Reason        string     `json:"reason" db:"reason"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	AdminOverride bool       `json:"admin_override" db:"admin_override"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	LiftedBy      string     `json:"lifted_by,omitempty" db:"lifted_by"`
}

// Expired reports whether the block window has passed at the given instant.
// Blocks without an expiry (admin-unblock-only) never expire on their own.
func (r *BlockRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// InEffect reports whether the block still applies at the given instant.
func (r *BlockRecord) InEffect(now time.Time) bool {
	return r.IsActive && !r.AdminOverride && !r.Expired(now)
}
