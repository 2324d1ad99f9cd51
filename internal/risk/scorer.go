package risk

import (
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/geo"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// DeviceStatus carries the registry outcome the scorer needs. The scorer
// never talks to the registry itself.
type DeviceStatus struct {
	// NewDevice is true when the device was first registered during this
	// attempt under the warn policy.
	NewDevice bool
	// Verified is true when the binding has passed admin approval.
	Verified bool
}

// Assessment is the scorer's output for a single attempt.
type Assessment struct {
	Score            int
	Level            model.RiskLevel
	TriggeredMethods []string
}

// Scorer combines signal indicators with configured weights into a bounded
// risk score. Disabled detection methods never contribute, and a signal whose
// required input is missing is non-triggering rather than an error.
type Scorer struct {
	logger *zap.Logger
}

func NewScorer(logger *zap.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// Score evaluates every enabled detection method against the attempt and the
// given geofence/device outcomes. The total is clamped to [0,100].
func (s *Scorer) Score(attempt *model.AttendanceAttempt, geofence *geo.Result, device DeviceStatus, cfg *model.RiskConfiguration) Assessment {
	total := 0
	var triggered []string

	add := func(method string, weight int) {
		total += weight
		triggered = append(triggered, method)
	}

	if cfg.MockLocationEnabled && attempt.Fingerprint.MockLocationEnabled {
		add(model.MethodMockLocation, cfg.MockLocationScore)
	}

	if cfg.FakeGPSAppEnabled && s.hasFakeGPSApp(attempt.Fingerprint.InstalledApps, cfg.FakeGPSPackages) {
		add(model.MethodFakeGPSApp, cfg.FakeGPSAppScore)
	}

	if cfg.DeveloperModeEnabled && attempt.Fingerprint.DeveloperModeEnabled {
		add(model.MethodDeveloperMode, cfg.DeveloperModeScore)
	}

	if cfg.ImpossibleTravelEnabled && s.impossibleTravel(attempt, cfg) {
		add(model.MethodImpossibleTravel, cfg.ImpossibleTravelScore)
	}

	if cfg.CoordinateAnomalyEnabled && s.coordinateAnomaly(attempt, cfg) {
		add(model.MethodCoordinateAnomaly, cfg.CoordinateAnomalyScore)
	}

	if cfg.DeviceIntegrityEnabled && s.deviceIntegritySuspect(attempt, geofence, device, cfg) {
		add(model.MethodDeviceIntegrity, cfg.DeviceIntegrityScore)
	}

	if device.NewDevice {
		add(model.MethodNewDevice, cfg.NewDeviceScore)
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	assessment := Assessment{
		Score:            total,
		Level:            DetermineRiskLevel(total, cfg),
		TriggeredMethods: triggered,
	}

	util.Debug("Risk score computed",
		zap.String("user_id", attempt.UserID),
		zap.Int("score", assessment.Score),
		zap.String("level", string(assessment.Level)),
		zap.Any("methods", assessment.TriggeredMethods))

	return assessment
}

// DetermineRiskLevel maps a score onto the configured tiers. A score below
// the low threshold is low risk; critical starts at the blocked threshold.
func DetermineRiskLevel(score int, cfg *model.RiskConfiguration) model.RiskLevel {
	switch {
	case score >= cfg.BlockedThreshold:
		return model.RiskLevelCritical
	case score >= cfg.MediumRiskThreshold:
		return model.RiskLevelHigh
	case score >= cfg.LowRiskThreshold:
		return model.RiskLevelMedium
	default:
		return model.RiskLevelLow
	}
}

func (s *Scorer) hasFakeGPSApp(installed, denylist []string) bool {
	if len(installed) == 0 || len(denylist) == 0 {
		return false
	}
	denied := make(map[string]struct{}, len(denylist))
	for _, pkg := range denylist {
		denied[pkg] = struct{}{}
	}
	for _, pkg := range installed {
		if _, ok := denied[pkg]; ok {
			return true
		}
	}
	return false
}

// impossibleTravel checks the implied speed against the previous accepted
// report. Elapsed time is floored at MinTimeBetweenLocations before computing
// speed so GPS jitter over a few seconds cannot produce absurd speed
// readings, while an instant teleport across tens of kilometers still fires.
func (s *Scorer) impossibleTravel(attempt *model.AttendanceAttempt, cfg *model.RiskConfiguration) bool {
	if attempt.PreviousPosition == nil || attempt.PreviousTimestamp == nil {
		return false
	}

	elapsed := attempt.Timestamp.Sub(*attempt.PreviousTimestamp)
	if elapsed <= 0 {
		return false
	}
	if minElapsed := time.Duration(cfg.MinTimeBetweenLocations) * time.Second; elapsed < minElapsed {
		elapsed = minElapsed
	}

	distanceKm := geo.Distance(attempt.Position, *attempt.PreviousPosition) / 1000.0
	speedKmh := distanceKm / elapsed.Hours()

	return speedKmh > cfg.MaxTravelSpeedKmh
}

// coordinateAnomaly fires on suspiciously perfect accuracy or on coordinates
// bit-identical to the user's recent reports. Real GPS fixes drift.
func (s *Scorer) coordinateAnomaly(attempt *model.AttendanceAttempt, cfg *model.RiskConfiguration) bool {
	if attempt.AccuracyMeters >= 0 && attempt.AccuracyMeters <= cfg.PerfectAccuracyEpsilon {
		return true
	}
	if len(attempt.RecentPositions) == 0 {
		return false
	}
	for _, prev := range attempt.RecentPositions {
		if prev != attempt.Position {
			return false
		}
	}
	return true
}

// deviceIntegritySuspect fires when the device is unverified or when the
// attempt is outside the geofence yet reports perfect accuracy.
func (s *Scorer) deviceIntegritySuspect(attempt *model.AttendanceAttempt, geofence *geo.Result, device DeviceStatus, cfg *model.RiskConfiguration) bool {
	if !device.Verified {
		return true
	}
	if geofence != nil && !geofence.WithinGeofence && attempt.AccuracyMeters <= cfg.PerfectAccuracyEpsilon {
		return true
	}
	return false
}
