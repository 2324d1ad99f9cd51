package model

import "time"

// -------------------- COORDINATE --------------------

// Coordinate is an immutable reported position in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// Valid reports whether the coordinate is inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// -------------------- WORK LOCATION --------------------

// WorkLocation is a circular geofence owned by location management.
// The engine only reads these.
type WorkLocation struct {
	LocationID   string     `json:"location_id" db:"location_id"`
	Name         string     `json:"name" db:"name"`
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters" db:"radius_meters"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// -------------------- DEVICE FINGERPRINT --------------------

// DeviceFingerprint describes the submitting device/app environment as
// reported in the check-in payload. DeviceID is opaque and stable per install.
type DeviceFingerprint struct {
	DeviceID             string   `json:"device_id" db:"device_id"`
	MockLocationEnabled  bool     `json:"mock_location_enabled" db:"mock_location_enabled"`
	DeveloperModeEnabled bool     `json:"developer_mode_enabled" db:"developer_mode_enabled"`
	InstalledApps        []string `json:"installed_apps" db:"installed_apps"`
	OSVersion            string   `json:"os_version,omitempty" db:"os_version"`
	AppVersion           string   `json:"app_version,omitempty" db:"app_version"`
}

// -------------------- ATTENDANCE ATTEMPT --------------------

// AttendanceAttempt is one check-in/check-out evaluation request. Previous*
// fields carry the user's last accepted report for travel-speed comparison
// and are nil/zero when no history exists.
type AttendanceAttempt struct {
	AttemptID      string            `json:"attempt_id" db:"attempt_id"`
	UserID         string            `json:"user_id" db:"user_id"`
	Position       Coordinate        `json:"position"`
	AccuracyMeters float64           `json:"accuracy_meters" db:"accuracy_meters"`
	Fingerprint    DeviceFingerprint `json:"device_fingerprint"`
	Timestamp      time.Time         `json:"timestamp" db:"attempt_time"`

	PreviousPosition  *Coordinate `json:"previous_position,omitempty"`
	PreviousTimestamp *time.Time  `json:"previous_timestamp,omitempty"`

	// RecentPositions holds the user's last accepted coordinates, newest
	// first, for the coordinate-anomaly check.
	RecentPositions []Coordinate `json:"recent_positions,omitempty"`
}
