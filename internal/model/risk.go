package model

import (
	"fmt"
	"time"
)

// -------------------- RISK LEVEL --------------------

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// -------------------- ACTION --------------------

type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// -------------------- DETECTION METHODS --------------------

// Detection method names as they appear in verdicts and audit records.
const (
	MethodMockLocation      = "mock_location"
	MethodFakeGPSApp        = "fake_gps_app"
	MethodDeveloperMode     = "developer_mode"
	MethodImpossibleTravel  = "impossible_travel"
	MethodCoordinateAnomaly = "coordinate_anomaly"
	MethodDeviceIntegrity   = "device_integrity"
	MethodNewDevice         = "new_device"
)

// -------------------- RISK CONFIGURATION --------------------

// RiskConfiguration is the versioned, admin-owned tuning record. Exactly one
// configuration is active at a time; the engine reads it as an immutable
// snapshot per evaluation. All weights are 0-100 points.
type RiskConfiguration struct {
	ConfigID string `json:"config_id" db:"config_id"`
	Version  int    `json:"version" db:"version"`
	IsActive bool   `json:"is_active" db:"is_active"`

	// Signal weights.
	MockLocationScore      int `json:"mock_location_score" db:"mock_location_score"`
	FakeGPSAppScore        int `json:"fake_gps_app_score" db:"fake_gps_app_score"`
	DeveloperModeScore     int `json:"developer_mode_score" db:"developer_mode_score"`
	ImpossibleTravelScore  int `json:"impossible_travel_score" db:"impossible_travel_score"`
	CoordinateAnomalyScore int `json:"coordinate_anomaly_score" db:"coordinate_anomaly_score"`
	DeviceIntegrityScore   int `json:"device_integrity_score" db:"device_integrity_score"`
	NewDeviceScore         int `json:"new_device_score" db:"new_device_score"`

	// Per-signal enable flags. Disabled methods never contribute.
	MockLocationEnabled      bool `json:"mock_location_enabled" db:"mock_location_enabled"`
	FakeGPSAppEnabled        bool `json:"fake_gps_app_enabled" db:"fake_gps_app_enabled"`
	DeveloperModeEnabled     bool `json:"developer_mode_enabled" db:"developer_mode_enabled"`
	ImpossibleTravelEnabled  bool `json:"impossible_travel_enabled" db:"impossible_travel_enabled"`
	CoordinateAnomalyEnabled bool `json:"coordinate_anomaly_enabled" db:"coordinate_anomaly_enabled"`
	DeviceIntegrityEnabled   bool `json:"device_integrity_enabled" db:"device_integrity_enabled"`

	// Risk-level thresholds, strictly ordered low < medium < high < blocked.
	LowRiskThreshold    int `json:"low_risk_threshold" db:"low_risk_threshold"`
	MediumRiskThreshold int `json:"medium_risk_threshold" db:"medium_risk_threshold"`
	HighRiskThreshold   int `json:"high_risk_threshold" db:"high_risk_threshold"`
	BlockedThreshold    int `json:"blocked_threshold" db:"blocked_threshold"`

	// Action thresholds, evaluated independently of risk-level labels.
	WarningActionThreshold int `json:"warning_action_threshold" db:"warning_action_threshold"`
	FlaggedActionThreshold int `json:"flagged_action_threshold" db:"flagged_action_threshold"`
	BlockedActionThreshold int `json:"blocked_action_threshold" db:"blocked_action_threshold"`

	// Travel and coordinate checks.
	MaxTravelSpeedKmh       float64 `json:"max_travel_speed_kmh" db:"max_travel_speed_kmh"`
	MinTimeBetweenLocations int     `json:"min_time_between_locations" db:"min_time_between_locations"` // seconds
	AccuracyThresholdMeters float64 `json:"accuracy_threshold_meters" db:"accuracy_threshold_meters"`   // geofence accuracy buffer cap
	PerfectAccuracyEpsilon  float64 `json:"perfect_accuracy_epsilon" db:"perfect_accuracy_epsilon"`     // "suspiciously perfect" cutoff

	// Known fake-GPS package identifiers.
	FakeGPSPackages []string `json:"fake_gps_packages" db:"fake_gps_packages"`

	// Device policy.
	DevicePolicy         DevicePolicy `json:"device_policy" db:"device_policy"`
	MaxDevicesPerUser    int          `json:"max_devices_per_user" db:"max_devices_per_user"`
	RequireAdminApproval bool         `json:"require_admin_approval" db:"require_admin_approval"`
	DeviceAutoCleanupDays int         `json:"device_auto_cleanup_days" db:"device_auto_cleanup_days"`

	// Blocking.
	AutoBlockEnabled   bool `json:"auto_block_enabled" db:"auto_block_enabled"`
	BlockDurationHours int  `json:"block_duration_hours" db:"block_duration_hours"`
	RequireAdminUnblock bool `json:"require_admin_unblock" db:"require_admin_unblock"`

	UpdatedBy string    `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the snapshot once at load time so signal checks never
// re-validate per evaluation.
func (c *RiskConfiguration) Validate() error {
	for name, w := range map[string]int{
		"mock_location_score":      c.MockLocationScore,
		"fake_gps_app_score":       c.FakeGPSAppScore,
		"developer_mode_score":     c.DeveloperModeScore,
		"impossible_travel_score":  c.ImpossibleTravelScore,
		"coordinate_anomaly_score": c.CoordinateAnomalyScore,
		"device_integrity_score":   c.DeviceIntegrityScore,
		"new_device_score":         c.NewDeviceScore,
	} {
		if w < 0 || w > 100 {
			return fmt.Errorf("%w: %s must be in [0,100], got %d", ErrInvalidConfiguration, name, w)
		}
	}

	if !(c.LowRiskThreshold < c.MediumRiskThreshold &&
		c.MediumRiskThreshold < c.HighRiskThreshold &&
		c.HighRiskThreshold < c.BlockedThreshold) {
		return fmt.Errorf("%w: risk thresholds must be strictly ordered low < medium < high < blocked", ErrInvalidConfiguration)
	}

	if !(c.WarningActionThreshold < c.FlaggedActionThreshold &&
		c.FlaggedActionThreshold < c.BlockedActionThreshold) {
		return fmt.Errorf("%w: action thresholds must be strictly ordered warning < flagged < blocked", ErrInvalidConfiguration)
	}

	if c.MaxTravelSpeedKmh <= 0 {
		return fmt.Errorf("%w: max_travel_speed_kmh must be positive", ErrInvalidConfiguration)
	}
	if c.MinTimeBetweenLocations < 0 {
		return fmt.Errorf("%w: min_time_between_locations must be non-negative", ErrInvalidConfiguration)
	}
	if c.AccuracyThresholdMeters < 0 || c.PerfectAccuracyEpsilon < 0 {
		return fmt.Errorf("%w: accuracy bounds must be non-negative", ErrInvalidConfiguration)
	}

	if !ValidDevicePolicy(c.DevicePolicy) {
		return fmt.Errorf("%w: unknown device policy %q", ErrInvalidConfiguration, c.DevicePolicy)
	}
	if c.MaxDevicesPerUser < 1 {
		return fmt.Errorf("%w: max_devices_per_user must be at least 1", ErrInvalidConfiguration)
	}
	if c.BlockDurationHours < 1 {
		return fmt.Errorf("%w: block_duration_hours must be at least 1", ErrInvalidConfiguration)
	}

	return nil
}

// FailSafeConfig is the documented fallback used when no active configuration
// can be loaded. Every detection method is enabled with conservative
// thresholds: the engine fails closed, never open.
func FailSafeConfig() *RiskConfiguration {
	return &RiskConfiguration{
		ConfigID: "failsafe",
		Version:  0,
		IsActive: true,

		MockLocationScore:      40,
		FakeGPSAppScore:        40,
		DeveloperModeScore:     15,
		ImpossibleTravelScore:  50,
		CoordinateAnomalyScore: 25,
		DeviceIntegrityScore:   25,
		NewDeviceScore:         15,

		MockLocationEnabled:      true,
		FakeGPSAppEnabled:        true,
		DeveloperModeEnabled:     true,
		ImpossibleTravelEnabled:  true,
		CoordinateAnomalyEnabled: true,
		DeviceIntegrityEnabled:   true,

		LowRiskThreshold:    20,
		MediumRiskThreshold: 40,
		HighRiskThreshold:   60,
		BlockedThreshold:    80,

		WarningActionThreshold: 30,
		FlaggedActionThreshold: 50,
		BlockedActionThreshold: 80,

		MaxTravelSpeedKmh:       120,
		MinTimeBetweenLocations: 300,
		AccuracyThresholdMeters: 50,
		PerfectAccuracyEpsilon:  1.0,

		FakeGPSPackages: []string{
			"com.lexa.fakegps",
			"com.incorporateapps.fakegps.fre",
			"com.blogspot.newapphorizons.fakegps",
			"com.gsmartstudio.fakegps",
			"com.theappninjas.fakegpsjoystick",
			"com.evezzon.fakegps",
		},

		DevicePolicy:          DevicePolicyStrict,
		MaxDevicesPerUser:     1,
		RequireAdminApproval:  true,
		DeviceAutoCleanupDays: 90,

		AutoBlockEnabled:    true,
		BlockDurationHours:  24,
		RequireAdminUnblock: false,
	}
}

// -------------------- VERDICT --------------------

// Verdict is the engine's single output per evaluation, persisted for audit
// and routed by the attendance workflow to its own downstream subsystems.
type Verdict struct {
	VerdictID        string     `json:"verdict_id" db:"verdict_id"`
	AttemptID        string     `json:"attempt_id" db:"attempt_id"`
	UserID           string     `json:"user_id" db:"user_id"`
	RiskScore        int        `json:"risk_score" db:"risk_score"`
	RiskLevel        RiskLevel  `json:"risk_level" db:"risk_level"`
	ActionTaken      Action     `json:"action_taken" db:"action_taken"`
	DetectionMethods []string   `json:"detection_methods" db:"detection_methods"`
	BlockExpiry      *time.Time `json:"block_expiry,omitempty" db:"block_expiry"`

	LocationID     string  `json:"location_id,omitempty" db:"location_id"`
	DistanceMeters float64 `json:"distance_meters" db:"distance_meters"`
	WithinGeofence bool    `json:"within_geofence" db:"within_geofence"`
	ConfigVersion  int     `json:"config_version" db:"config_version"`

	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}
