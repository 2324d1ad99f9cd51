package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/bucketing"
	"attendance-service/internal/config"
	"attendance-service/internal/device"
	"attendance-service/internal/geo"
	"attendance-service/internal/hashing"
	"attendance-service/internal/model"
	"attendance-service/internal/risk"
)

// -------------------- FAKES --------------------

type fakeConfigStore struct {
	cfg     *model.RiskConfiguration
	loadErr error
	saved   []*model.RiskConfiguration
}

func (f *fakeConfigStore) LoadActiveConfiguration(ctx context.Context) (*model.RiskConfiguration, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.cfg == nil {
		return nil, model.ErrConfigurationMissing
	}
	return f.cfg, nil
}

func (f *fakeConfigStore) SaveConfiguration(ctx context.Context, cfg *model.RiskConfiguration) error {
	f.saved = append(f.saved, cfg)
	f.cfg = cfg
	return nil
}

type fakeLocationRepo struct {
	locations []*model.WorkLocation
	listErr   error
}

func (f *fakeLocationRepo) ListActiveLocations(ctx context.Context) ([]*model.WorkLocation, error) {
	return f.locations, f.listErr
}

func (f *fakeLocationRepo) SaveLocation(ctx context.Context, loc *model.WorkLocation) error {
	f.locations = append(f.locations, loc)
	return nil
}

type fakeBlockRepo struct {
	active    map[string]*model.BlockRecord
	created   []*model.BlockRecord
	createErr error
}

func newFakeBlockRepo() *fakeBlockRepo {
	return &fakeBlockRepo{active: make(map[string]*model.BlockRecord)}
}

func (f *fakeBlockRepo) CreateBlock(ctx context.Context, record *model.BlockRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, record)
	f.active[record.UserID] = record
	return nil
}

func (f *fakeBlockRepo) GetActiveBlock(ctx context.Context, userID string) (*model.BlockRecord, error) {
	record, ok := f.active[userID]
	if !ok {
		return nil, model.ErrBlockNotFound
	}
	return record, nil
}

func (f *fakeBlockRepo) LiftBlock(ctx context.Context, userID, liftedBy string) error {
	record, ok := f.active[userID]
	if !ok {
		return model.ErrBlockNotFound
	}
	record.IsActive = false
	record.AdminOverride = true
	record.LiftedBy = liftedBy
	return nil
}

func (f *fakeBlockRepo) ExpireBlocks(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for _, record := range f.active {
		if record.IsActive && record.Expired(now) {
			record.IsActive = false
			expired++
		}
	}
	return expired, nil
}

type fakeAttemptRepo struct {
	last      *model.AttendanceAttempt
	positions []model.Coordinate
	recorded  []*model.Verdict
	recordErr error
}

func (f *fakeAttemptRepo) RecordAttempt(ctx context.Context, attempt *model.AttendanceAttempt, verdict *model.Verdict) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, verdict)
	return nil
}

func (f *fakeAttemptRepo) GetLastAttempt(ctx context.Context, userID string) (*model.AttendanceAttempt, error) {
	return f.last, nil
}

func (f *fakeAttemptRepo) ListRecentPositions(ctx context.Context, userID string, limit int) ([]model.Coordinate, error) {
	return f.positions, nil
}

func (f *fakeAttemptRepo) ListUserVerdicts(ctx context.Context, userID string, limit int) ([]*model.Verdict, error) {
	return f.recorded, nil
}

type fakeDeviceRepo struct {
	bindings map[string]*model.DeviceBinding
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{bindings: make(map[string]*model.DeviceBinding)}
}

func (f *fakeDeviceRepo) UpsertBinding(ctx context.Context, b *model.DeviceBinding) error {
	f.bindings[b.UserID+"|"+b.DeviceID] = b
	return nil
}

func (f *fakeDeviceRepo) GetBinding(ctx context.Context, userID, deviceID string) (*model.DeviceBinding, error) {
	b, ok := f.bindings[userID+"|"+deviceID]
	if !ok {
		return nil, model.ErrDeviceNotFound
	}
	return b, nil
}

func (f *fakeDeviceRepo) ListUserBindings(ctx context.Context, userID string) ([]*model.DeviceBinding, error) {
	var out []*model.DeviceBinding
	for _, b := range f.bindings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeDeviceRepo) CountActiveBindings(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, b := range f.bindings {
		if b.UserID == userID && b.IsActive {
			count++
		}
	}
	return count, nil
}

func (f *fakeDeviceRepo) VerifyBinding(ctx context.Context, userID, deviceID string, verifiedAt time.Time) error {
	b, ok := f.bindings[userID+"|"+deviceID]
	if !ok {
		return model.ErrDeviceNotFound
	}
	b.VerifiedAt = &verifiedAt
	return nil
}

func (f *fakeDeviceRepo) RevokeBinding(ctx context.Context, userID, deviceID, reason string) error {
	b, ok := f.bindings[userID+"|"+deviceID]
	if !ok {
		return model.ErrDeviceNotFound
	}
	b.IsActive = false
	b.RevokedReason = reason
	return nil
}

func (f *fakeDeviceRepo) PurgeInactiveBindings(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type noopLock struct{}

func (noopLock) Acquire(ctx context.Context, userID, deviceID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (noopLock) Release(ctx context.Context, userID, deviceID string) error { return nil }

// -------------------- HARNESS --------------------

type orchestratorHarness struct {
	orchestrator *Orchestrator
	configStore  *fakeConfigStore
	locations    *fakeLocationRepo
	blocks       *fakeBlockRepo
	attempts     *fakeAttemptRepo
	devices      *fakeDeviceRepo
	now          time.Time
}

func newHarness(t *testing.T) *orchestratorHarness {
	t.Helper()

	appCfg := config.LoadConfig()
	logger := zap.NewNop()

	riskCfg := model.FailSafeConfig()
	riskCfg.ConfigID = "cfg-test"
	riskCfg.Version = 7
	riskCfg.DevicePolicy = model.DevicePolicyWarn
	riskCfg.RequireAdminApproval = false
	riskCfg.NewDeviceScore = 0 // keep the registration signal quiet unless a test wants it

	h := &orchestratorHarness{
		configStore: &fakeConfigStore{cfg: riskCfg},
		locations: &fakeLocationRepo{locations: []*model.WorkLocation{{
			LocationID:   "clinic-main",
			Name:         "Main Clinic",
			Center:       model.Coordinate{Latitude: -6.2000, Longitude: 106.8000},
			RadiusMeters: 100,
			IsActive:     true,
		}}},
		blocks:   newFakeBlockRepo(),
		attempts: &fakeAttemptRepo{},
		devices:  newFakeDeviceRepo(),
		now:      time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC),
	}

	registry := device.NewRegistry(h.devices, noopLock{}, hashing.NewHasher(appCfg), bucketing.NewManager(appCfg), time.Second, logger)
	configs := NewConfigProvider(h.configStore, nil, time.Minute, logger)

	h.orchestrator = NewOrchestrator(
		configs,
		h.locations,
		geo.NewEvaluator(logger),
		registry,
		risk.NewScorer(logger),
		risk.NewDecider(logger),
		h.blocks,
		nil,
		h.attempts,
		nil,
		5,
		time.Hour,
		logger,
	)
	h.orchestrator.now = func() time.Time { return h.now }

	return h
}

func (h *orchestratorHarness) riskConfig() *model.RiskConfiguration {
	return h.configStore.cfg
}

func cleanAttempt() *model.AttendanceAttempt {
	return &model.AttendanceAttempt{
		UserID:         "nurse-1",
		Position:       model.Coordinate{Latitude: -6.2001, Longitude: 106.8001},
		AccuracyMeters: 15,
		Fingerprint:    model.DeviceFingerprint{DeviceID: "device-1"},
	}
}

// -------------------- TESTS --------------------

func TestValidateCleanAttemptAllowed(t *testing.T) {
	h := newHarness(t)

	result, err := h.orchestrator.Validate(context.Background(), cleanAttempt())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.State != StateRecorded {
		t.Errorf("State = %s, want recorded", result.State)
	}

	v := result.Verdict
	if v.ActionTaken != model.ActionAllow {
		t.Errorf("ActionTaken = %s, want allow", v.ActionTaken)
	}
	if v.RiskScore != 0 {
		t.Errorf("RiskScore = %d, want 0", v.RiskScore)
	}
	if !v.WithinGeofence {
		t.Error("WithinGeofence = false inside the clinic radius")
	}
	if v.LocationID != "clinic-main" {
		t.Errorf("LocationID = %s, want clinic-main", v.LocationID)
	}
	if v.ConfigVersion != 7 {
		t.Errorf("ConfigVersion = %d, want 7", v.ConfigVersion)
	}
	if !v.RecordedAt.Equal(h.now) {
		t.Errorf("RecordedAt = %v, want %v", v.RecordedAt, h.now)
	}
	if len(h.attempts.recorded) != 1 {
		t.Fatalf("recorded %d verdicts, want 1", len(h.attempts.recorded))
	}
	if result.BindToken == "" {
		t.Error("BindToken empty for a first-seen device")
	}
}

func TestValidateStandingBlockShortCircuits(t *testing.T) {
	h := newHarness(t)
	expiry := h.now.Add(6 * time.Hour)
	h.blocks.active["nurse-1"] = &model.BlockRecord{
		BlockID:   "blk-1",
		UserID:    "nurse-1",
		IsActive:  true,
		ExpiresAt: &expiry,
	}
	h.locations.listErr = errors.New("must not be called")

	result, err := h.orchestrator.Validate(context.Background(), cleanAttempt())
	if !errors.Is(err, model.ErrUserBlocked) {
		t.Fatalf("Validate() error = %v, want ErrUserBlocked", err)
	}
	if result == nil {
		t.Fatal("Validate() returned nil result alongside ErrUserBlocked")
	}

	v := result.Verdict
	if v.ActionTaken != model.ActionBlock {
		t.Errorf("ActionTaken = %s, want block", v.ActionTaken)
	}
	if v.RiskScore != 100 || v.RiskLevel != model.RiskLevelCritical {
		t.Errorf("verdict = score %d level %s, want 100/critical", v.RiskScore, v.RiskLevel)
	}
	if v.BlockExpiry == nil || !v.BlockExpiry.Equal(expiry) {
		t.Errorf("BlockExpiry = %v, want %v", v.BlockExpiry, expiry)
	}
	if len(v.DetectionMethods) != 0 {
		t.Errorf("DetectionMethods = %v, want empty for short-circuit", v.DetectionMethods)
	}
	// The rejection is still audited.
	if len(h.attempts.recorded) != 1 {
		t.Errorf("recorded %d verdicts, want 1", len(h.attempts.recorded))
	}
}

func TestValidateExpiredBlockDoesNotShortCircuit(t *testing.T) {
	h := newHarness(t)
	expiry := h.now.Add(-time.Hour)
	h.blocks.active["nurse-1"] = &model.BlockRecord{
		BlockID:   "blk-old",
		UserID:    "nurse-1",
		IsActive:  true,
		ExpiresAt: &expiry,
	}

	result, err := h.orchestrator.Validate(context.Background(), cleanAttempt())
	if err != nil {
		t.Fatalf("Validate() error = %v, expired block must not reject", err)
	}
	if result.Verdict.ActionTaken != model.ActionAllow {
		t.Errorf("ActionTaken = %s, want allow", result.Verdict.ActionTaken)
	}
}

func TestValidateImpossibleTravelAutoBlocks(t *testing.T) {
	h := newHarness(t)

	// Last accepted report: ~50km away, ten minutes before the attempt.
	prev := model.Coordinate{Latitude: -6.6500, Longitude: 106.8000}
	h.attempts.last = &model.AttendanceAttempt{
		UserID:    "nurse-1",
		Position:  prev,
		Timestamp: h.now.Add(-10 * time.Minute),
	}

	attempt := cleanAttempt()
	attempt.Fingerprint.MockLocationEnabled = true // 40 + 50 travel = 90

	result, err := h.orchestrator.Validate(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	v := result.Verdict
	if v.ActionTaken != model.ActionBlock {
		t.Fatalf("ActionTaken = %s, want block (score %d)", v.ActionTaken, v.RiskScore)
	}
	if v.RiskScore != 90 {
		t.Errorf("RiskScore = %d, want 90", v.RiskScore)
	}
	if v.RiskLevel != model.RiskLevelCritical {
		t.Errorf("RiskLevel = %s, want critical", v.RiskLevel)
	}

	if len(h.blocks.created) != 1 {
		t.Fatalf("created %d block records, want 1", len(h.blocks.created))
	}
	block := h.blocks.created[0]
	if block.UserID != "nurse-1" || !block.IsActive {
		t.Errorf("block record = %+v, want active record for nurse-1", block)
	}
	wantExpiry := h.now.Add(time.Duration(h.riskConfig().BlockDurationHours) * time.Hour)
	if block.ExpiresAt == nil || !block.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("block ExpiresAt = %v, want %v", block.ExpiresAt, wantExpiry)
	}

	// The next attempt short-circuits on the standing block.
	if _, err := h.orchestrator.Validate(context.Background(), cleanAttempt()); !errors.Is(err, model.ErrUserBlocked) {
		t.Errorf("second Validate() error = %v, want ErrUserBlocked", err)
	}
}

func TestValidateBlockFailureKeepsVerdict(t *testing.T) {
	h := newHarness(t)
	h.blocks.createErr = errors.New("scylla down")

	attempt := cleanAttempt()
	attempt.Fingerprint.MockLocationEnabled = true
	h.attempts.last = &model.AttendanceAttempt{
		UserID:    "nurse-1",
		Position:  model.Coordinate{Latitude: -6.6500, Longitude: 106.8000},
		Timestamp: h.now.Add(-10 * time.Minute),
	}

	result, err := h.orchestrator.Validate(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Validate() error = %v, block-store failure must not fail the verdict", err)
	}
	if result.Verdict.ActionTaken != model.ActionBlock {
		t.Errorf("ActionTaken = %s, want block", result.Verdict.ActionTaken)
	}
	if len(h.attempts.recorded) != 1 {
		t.Errorf("recorded %d verdicts, want 1", len(h.attempts.recorded))
	}
}

func TestValidateFailSafeWhenConfigurationMissing(t *testing.T) {
	h := newHarness(t)
	h.configStore.cfg = nil

	result, err := h.orchestrator.Validate(context.Background(), cleanAttempt())
	if err != nil {
		t.Fatalf("Validate() error = %v, missing configuration must fall back", err)
	}
	if result.Verdict.ConfigVersion != 0 {
		t.Errorf("ConfigVersion = %d, want 0 for fail-safe snapshot", result.Verdict.ConfigVersion)
	}
	if result.Verdict.ActionTaken != model.ActionAllow {
		t.Errorf("ActionTaken = %s, want allow for a clean attempt", result.Verdict.ActionTaken)
	}
}

func TestValidateInvalidCoordinateRejected(t *testing.T) {
	h := newHarness(t)

	attempt := cleanAttempt()
	attempt.Position = model.Coordinate{Latitude: 120, Longitude: 0}

	_, err := h.orchestrator.Validate(context.Background(), attempt)
	if !errors.Is(err, model.ErrInvalidCoordinate) {
		t.Fatalf("Validate() error = %v, want ErrInvalidCoordinate", err)
	}
	if len(h.attempts.recorded) != 0 {
		t.Error("invalid attempt was recorded")
	}
}

func TestValidateNoActiveLocationRejected(t *testing.T) {
	h := newHarness(t)
	h.locations.locations = nil

	_, err := h.orchestrator.Validate(context.Background(), cleanAttempt())
	if !errors.Is(err, model.ErrNoActiveWorkLocation) {
		t.Fatalf("Validate() error = %v, want ErrNoActiveWorkLocation", err)
	}
}

func TestValidateOutsideGeofenceStillEvaluated(t *testing.T) {
	h := newHarness(t)

	attempt := cleanAttempt()
	attempt.Position = model.Coordinate{Latitude: -6.2100, Longitude: 106.8000} // ~1.1km away

	if _, err := h.orchestrator.Validate(context.Background(), cleanAttempt()); err != nil {
		t.Fatalf("Validate() warm-up error = %v", err)
	}

	result, err := h.orchestrator.Validate(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Validate() error = %v, outside fence is not an error", err)
	}
	if result.Verdict.WithinGeofence {
		t.Error("WithinGeofence = true ~1.1km from the center")
	}
	if result.Verdict.DistanceMeters < 1000 {
		t.Errorf("DistanceMeters = %f, want > 1000", result.Verdict.DistanceMeters)
	}
}

func TestValidateHistoryBackfilled(t *testing.T) {
	h := newHarness(t)
	h.attempts.last = &model.AttendanceAttempt{
		UserID:    "nurse-1",
		Position:  model.Coordinate{Latitude: -6.2002, Longitude: 106.8002},
		Timestamp: h.now.Add(-2 * time.Hour),
	}
	h.attempts.positions = []model.Coordinate{
		{Latitude: -6.2002, Longitude: 106.8002},
		{Latitude: -6.2003, Longitude: 106.8001},
	}

	attempt := cleanAttempt()
	if _, err := h.orchestrator.Validate(context.Background(), attempt); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if attempt.PreviousPosition == nil || *attempt.PreviousPosition != h.attempts.last.Position {
		t.Error("PreviousPosition not backfilled from the audit trail")
	}
	if len(attempt.RecentPositions) != 2 {
		t.Errorf("RecentPositions length = %d, want 2", len(attempt.RecentPositions))
	}
}

func TestDryRunRecordsNothing(t *testing.T) {
	h := newHarness(t)

	attempt := cleanAttempt()
	attempt.Fingerprint.MockLocationEnabled = true

	result, err := h.orchestrator.DryRun(context.Background(), attempt)
	if err != nil {
		t.Fatalf("DryRun() error = %v", err)
	}
	if result.State != StateActionDetermined {
		t.Errorf("State = %s, want action_determined", result.State)
	}
	if result.Verdict.RiskScore == 0 {
		t.Error("RiskScore = 0, mock location must still score")
	}

	if len(h.attempts.recorded) != 0 {
		t.Error("DryRun recorded a verdict")
	}
	if len(h.devices.bindings) != 0 {
		t.Error("DryRun registered a device")
	}
	if len(h.blocks.created) != 0 {
		t.Error("DryRun created a block record")
	}
}

func TestDryRunUsesExistingBinding(t *testing.T) {
	h := newHarness(t)
	verifiedAt := h.now.Add(-24 * time.Hour)
	h.devices.bindings["nurse-1|device-1"] = &model.DeviceBinding{
		UserID:     "nurse-1",
		DeviceID:   "device-1",
		IsActive:   true,
		VerifiedAt: &verifiedAt,
	}

	result, err := h.orchestrator.DryRun(context.Background(), cleanAttempt())
	if err != nil {
		t.Fatalf("DryRun() error = %v", err)
	}
	if result.Verdict.RiskScore != 0 {
		t.Errorf("RiskScore = %d, want 0 for a known verified device", result.Verdict.RiskScore)
	}
}

func TestValidateNormalizesAttempt(t *testing.T) {
	h := newHarness(t)

	attempt := cleanAttempt()
	attempt.UserID = "  nurse-1  "
	attempt.AttemptID = ""
	attempt.Timestamp = time.Time{}

	result, err := h.orchestrator.Validate(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if attempt.UserID != "nurse-1" {
		t.Errorf("UserID = %q, want trimmed", attempt.UserID)
	}
	if attempt.AttemptID == "" {
		t.Error("AttemptID not assigned")
	}
	if !attempt.Timestamp.Equal(h.now) {
		t.Errorf("Timestamp = %v, want %v", attempt.Timestamp, h.now)
	}
	if result.Verdict.AttemptID != attempt.AttemptID {
		t.Error("verdict does not reference the normalized attempt")
	}
}
