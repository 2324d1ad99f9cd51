package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-service/internal/device"
	"attendance-service/internal/geo"
	"attendance-service/internal/model"
	"attendance-service/internal/risk"
	"attendance-service/internal/util"
)

// ValidationState tracks an attempt's progress through the evaluation chain.
type ValidationState string

const (
	StatePending          ValidationState = "pending"
	StateGeofenceChecked  ValidationState = "geofence_checked"
	StateDeviceResolved   ValidationState = "device_resolved"
	StateRiskScored       ValidationState = "risk_scored"
	StateActionDetermined ValidationState = "action_determined"
	StateRecorded         ValidationState = "recorded"
)

// ValidationResult is the orchestrator's answer for one attempt.
type ValidationResult struct {
	Verdict  *model.Verdict  `json:"verdict"`
	Geofence *geo.Result     `json:"geofence,omitempty"`
	State    ValidationState `json:"state"`
	// BindToken is the plaintext device token, present only when a new
	// binding was created during this attempt.
	BindToken string `json:"bind_token,omitempty"`
}

// Orchestrator runs the full evaluation chain for each attendance attempt:
// block pre-check, geofence, device resolution, risk scoring, action
// decision, and audit recording. Evaluations are independent; concurrent
// attempts never block each other.
type Orchestrator struct {
	configs   *ConfigProvider
	locations model.WorkLocationRepository
	geofence  *geo.Evaluator
	devices   *device.Registry
	scorer    *risk.Scorer
	decider   *risk.Decider

	blocks     model.BlockRecordRepository
	blockCache model.BlockCache
	attempts   model.AttemptRepository
	publisher  *VerdictPublisher

	historyLimit     int
	blockCacheMaxTTL time.Duration
	logger           *zap.Logger
	now              func() time.Time
}

func NewOrchestrator(
	configs *ConfigProvider,
	locations model.WorkLocationRepository,
	geofence *geo.Evaluator,
	devices *device.Registry,
	scorer *risk.Scorer,
	decider *risk.Decider,
	blocks model.BlockRecordRepository,
	blockCache model.BlockCache,
	attempts model.AttemptRepository,
	publisher *VerdictPublisher,
	historyLimit int,
	blockCacheMaxTTL time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		configs:          configs,
		locations:        locations,
		geofence:         geofence,
		devices:          devices,
		scorer:           scorer,
		decider:          decider,
		blocks:           blocks,
		blockCache:       blockCache,
		attempts:         attempts,
		publisher:        publisher,
		historyLimit:     historyLimit,
		blockCacheMaxTTL: blockCacheMaxTTL,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Validate evaluates one attendance attempt end to end. A user under an
// unexpired block gets a block verdict immediately, without re-scoring, and
// the call returns ErrUserBlocked alongside the result so the caller rejects
// the attempt. Structural failures (invalid coordinate, no active geofence)
// abort the chain with an error and nothing is recorded.
func (o *Orchestrator) Validate(ctx context.Context, attempt *model.AttendanceAttempt) (*ValidationResult, error) {
	if err := o.normalize(attempt); err != nil {
		return nil, err
	}

	now := o.now()
	state := StatePending

	if block := o.activeBlock(ctx, attempt.UserID, now); block != nil {
		result := o.blockedResult(ctx, attempt, block, now)
		return result, model.ErrUserBlocked
	}

	cfg := o.configs.Active(ctx)

	o.loadHistory(ctx, attempt)

	locations, err := o.locations.ListActiveLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load work locations: %w", err)
	}
	geofence, err := o.geofence.Evaluate(attempt.Position, attempt.AccuracyMeters, cfg.AccuracyThresholdMeters, locations)
	if err != nil {
		return nil, err
	}
	state = StateGeofenceChecked

	_, outcome, err := o.devices.Resolve(ctx, attempt.UserID, attempt.Fingerprint, cfg)
	if err != nil {
		return nil, err
	}
	state = StateDeviceResolved

	assessment := o.scorer.Score(attempt, geofence, risk.DeviceStatus{
		NewDevice: outcome.NewDevice,
		Verified:  outcome.Verified,
	}, cfg)
	state = StateRiskScored

	decision := o.decider.Decide(assessment.Score, cfg, now)
	state = StateActionDetermined

	verdict := &model.Verdict{
		VerdictID:        uuid.New().String(),
		AttemptID:        attempt.AttemptID,
		UserID:           attempt.UserID,
		RiskScore:        assessment.Score,
		RiskLevel:        assessment.Level,
		ActionTaken:      decision.Action,
		DetectionMethods: assessment.TriggeredMethods,
		BlockExpiry:      decision.BlockExpiry,
		LocationID:       geofence.LocationID,
		DistanceMeters:   geofence.DistanceMeters,
		WithinGeofence:   geofence.WithinGeofence,
		ConfigVersion:    cfg.Version,
		RecordedAt:       now,
	}

	if decision.BlockRequired {
		if err := o.createBlock(ctx, attempt.UserID, assessment, decision, now); err != nil {
			// The verdict still stands; the next attempt will re-score and
			// re-block if the signals persist.
			util.Error("Failed to create block record",
				zap.String("user_id", attempt.UserID),
				zap.Error(err))
		}
	}

	o.record(ctx, attempt, verdict)
	state = StateRecorded

	util.Info("Attendance attempt evaluated",
		zap.String("user_id", attempt.UserID),
		zap.String("attempt_id", attempt.AttemptID),
		zap.Int("risk_score", verdict.RiskScore),
		zap.String("action", string(verdict.ActionTaken)),
		zap.Bool("within_geofence", verdict.WithinGeofence))

	return &ValidationResult{
		Verdict:   verdict,
		Geofence:  geofence,
		State:     state,
		BindToken: outcome.BindToken,
	}, nil
}

// DryRun evaluates an attempt against the current configuration without
// registering devices, creating blocks, or recording anything. Admins use it
// to probe how a payload would score.
func (o *Orchestrator) DryRun(ctx context.Context, attempt *model.AttendanceAttempt) (*ValidationResult, error) {
	if err := o.normalize(attempt); err != nil {
		return nil, err
	}

	cfg := o.configs.Active(ctx)
	o.loadHistory(ctx, attempt)

	locations, err := o.locations.ListActiveLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load work locations: %w", err)
	}
	geofence, err := o.geofence.Evaluate(attempt.Position, attempt.AccuracyMeters, cfg.AccuracyThresholdMeters, locations)
	if err != nil {
		return nil, err
	}

	status := risk.DeviceStatus{NewDevice: true}
	if binding, err := o.devices.Lookup(ctx, attempt.UserID, attempt.Fingerprint.DeviceID); err == nil && binding != nil && binding.IsActive {
		status = risk.DeviceStatus{Verified: binding.Verified()}
	}

	now := o.now()
	assessment := o.scorer.Score(attempt, geofence, status, cfg)
	decision := o.decider.Decide(assessment.Score, cfg, now)

	verdict := &model.Verdict{
		VerdictID:        uuid.New().String(),
		AttemptID:        attempt.AttemptID,
		UserID:           attempt.UserID,
		RiskScore:        assessment.Score,
		RiskLevel:        assessment.Level,
		ActionTaken:      decision.Action,
		DetectionMethods: assessment.TriggeredMethods,
		BlockExpiry:      decision.BlockExpiry,
		LocationID:       geofence.LocationID,
		DistanceMeters:   geofence.DistanceMeters,
		WithinGeofence:   geofence.WithinGeofence,
		ConfigVersion:    cfg.Version,
		RecordedAt:       now,
	}

	return &ValidationResult{Verdict: verdict, Geofence: geofence, State: StateActionDetermined}, nil
}

func (o *Orchestrator) normalize(attempt *model.AttendanceAttempt) error {
	attempt.UserID = strings.TrimSpace(attempt.UserID)
	if !util.ValidIdentifier(attempt.UserID) {
		return fmt.Errorf("invalid user id")
	}
	if !util.ValidIdentifier(attempt.Fingerprint.DeviceID) {
		return fmt.Errorf("invalid device id")
	}
	if !attempt.Position.Valid() {
		return fmt.Errorf("%w: lat=%f lon=%f", model.ErrInvalidCoordinate,
			attempt.Position.Latitude, attempt.Position.Longitude)
	}
	if attempt.AttemptID == "" {
		attempt.AttemptID = uuid.New().String()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = o.now()
	}
	return nil
}

// activeBlock consults the cache first and falls back to the store. Expired
// or lifted blocks are treated as absent.
func (o *Orchestrator) activeBlock(ctx context.Context, userID string, now time.Time) *model.BlockRecord {
	if o.blockCache != nil {
		if cached, err := o.blockCache.GetBlock(ctx, userID); err == nil && cached != nil {
			if cached.InEffect(now) {
				return cached
			}
			_ = o.blockCache.ClearBlock(ctx, userID)
		}
	}

	record, err := o.blocks.GetActiveBlock(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrBlockNotFound) {
			util.Warn("Block lookup failed, continuing without block check",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return nil
	}
	if !record.InEffect(now) {
		return nil
	}

	o.cacheBlock(ctx, record, now)
	return record
}

// blockedResult builds the short-circuit verdict for a standing block. The
// prior decision is preserved as-is: no geofence or scoring runs, and the
// verdict is still recorded for audit.
func (o *Orchestrator) blockedResult(ctx context.Context, attempt *model.AttendanceAttempt, block *model.BlockRecord, now time.Time) *ValidationResult {
	verdict := &model.Verdict{
		VerdictID:   uuid.New().String(),
		AttemptID:   attempt.AttemptID,
		UserID:      attempt.UserID,
		RiskScore:   100,
		RiskLevel:   model.RiskLevelCritical,
		ActionTaken: model.ActionBlock,
		BlockExpiry: block.ExpiresAt,
		RecordedAt:  now,
	}

	o.record(ctx, attempt, verdict)

	util.Info("Attempt rejected for standing block",
		zap.String("user_id", attempt.UserID),
		zap.String("block_id", block.BlockID))

	return &ValidationResult{Verdict: verdict, State: StateRecorded}
}

// loadHistory backfills travel and anomaly inputs from the audit trail when
// the caller did not supply them. Missing history is never an error; the
// affected signals simply do not trigger.
func (o *Orchestrator) loadHistory(ctx context.Context, attempt *model.AttendanceAttempt) {
	if attempt.PreviousPosition == nil {
		last, err := o.attempts.GetLastAttempt(ctx, attempt.UserID)
		if err != nil {
			util.Warn("Failed to load previous attempt",
				zap.String("user_id", attempt.UserID),
				zap.Error(err))
		} else if last != nil {
			pos := last.Position
			ts := last.Timestamp
			attempt.PreviousPosition = &pos
			attempt.PreviousTimestamp = &ts
		}
	}

	if len(attempt.RecentPositions) == 0 && o.historyLimit > 0 {
		positions, err := o.attempts.ListRecentPositions(ctx, attempt.UserID, o.historyLimit)
		if err != nil {
			util.Warn("Failed to load recent positions",
				zap.String("user_id", attempt.UserID),
				zap.Error(err))
		} else {
			attempt.RecentPositions = positions
		}
	}
}

func (o *Orchestrator) createBlock(ctx context.Context, userID string, assessment risk.Assessment, decision risk.Decision, now time.Time) error {
	record := &model.BlockRecord{
		BlockID:   uuid.New().String(),
		UserID:    userID,
		Reason:    fmt.Sprintf("risk score %d: %s", assessment.Score, strings.Join(assessment.TriggeredMethods, ",")),
		StartedAt: now,
		ExpiresAt: decision.BlockExpiry,
		IsActive:  true,
	}

	if err := o.blocks.CreateBlock(ctx, record); err != nil {
		return err
	}

	o.cacheBlock(ctx, record, now)

	util.Warn("User auto-blocked",
		zap.String("user_id", userID),
		zap.String("block_id", record.BlockID),
		zap.Int("risk_score", assessment.Score))

	return nil
}

func (o *Orchestrator) cacheBlock(ctx context.Context, record *model.BlockRecord, now time.Time) {
	if o.blockCache == nil {
		return
	}

	ttl := o.blockCacheMaxTTL
	if record.ExpiresAt != nil {
		if remaining := record.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}

	if err := o.blockCache.SetBlock(ctx, record, ttl); err != nil {
		util.Debug("Failed to cache block record", zap.Error(err))
	}
}

// record persists the attempt/verdict pair and fans the verdict out. Audit
// persistence failing is surfaced in logs but does not flip the verdict; the
// decision already happened.
func (o *Orchestrator) record(ctx context.Context, attempt *model.AttendanceAttempt, verdict *model.Verdict) {
	if err := o.attempts.RecordAttempt(ctx, attempt, verdict); err != nil {
		util.Error("Failed to record attempt",
			zap.String("attempt_id", attempt.AttemptID),
			zap.String("verdict_id", verdict.VerdictID),
			zap.Error(err))
	}

	if o.publisher != nil {
		o.publisher.Publish(ctx, verdict)
	}
}
