package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-service/internal/bucketing"
	"attendance-service/internal/hashing"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// ResolveOutcome describes how the registry handled the attempt's device.
type ResolveOutcome struct {
	// NewDevice is true when the binding was created during this resolve.
	NewDevice bool
	// Verified mirrors the binding's approval state.
	Verified bool
	// BindToken carries the plaintext token for a freshly created binding.
	// It is returned exactly once; only its hash is stored.
	BindToken string
}

// Registry enforces the device-binding policy: strict caps active bindings
// per user, warn registers but feeds a new_device signal to the scorer,
// flexible registers silently.
type Registry struct {
	bindings model.DeviceBindingRepository
	locks    model.RegistrationLock
	hasher   *hashing.Hasher
	buckets  *bucketing.Manager
	lockTTL  time.Duration
	logger   *zap.Logger
}

func NewRegistry(
	bindings model.DeviceBindingRepository,
	locks model.RegistrationLock,
	hasher *hashing.Hasher,
	buckets *bucketing.Manager,
	lockTTL time.Duration,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		bindings: bindings,
		locks:    locks,
		hasher:   hasher,
		buckets:  buckets,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// Resolve returns the binding for (user, device), registering it when the
// policy allows. An already-bound active device is returned unchanged.
func (r *Registry) Resolve(ctx context.Context, userID string, fingerprint model.DeviceFingerprint, cfg *model.RiskConfiguration) (*model.DeviceBinding, ResolveOutcome, error) {
	existing, err := r.bindings.GetBinding(ctx, userID, fingerprint.DeviceID)
	if err != nil && !errors.Is(err, model.ErrDeviceNotFound) {
		return nil, ResolveOutcome{}, fmt.Errorf("failed to look up device binding: %w", err)
	}
	if existing != nil && existing.IsActive {
		return existing, ResolveOutcome{Verified: existing.Verified()}, nil
	}

	// New (or previously revoked) device: policy applies.
	if cfg.DevicePolicy == model.DevicePolicyStrict {
		count, err := r.bindings.CountActiveBindings(ctx, userID)
		if err != nil {
			return nil, ResolveOutcome{}, fmt.Errorf("failed to count active bindings: %w", err)
		}
		if count >= cfg.MaxDevicesPerUser {
			util.Warn("Device registration rejected",
				zap.String("user_id", userID),
				zap.String("device_id", fingerprint.DeviceID),
				zap.Int("active_bindings", count),
				zap.Int("max_devices", cfg.MaxDevicesPerUser))
			return nil, ResolveOutcome{}, model.ErrDeviceLimitExceeded
		}
	}

	binding, token, err := r.register(ctx, userID, fingerprint.DeviceID, cfg)
	if err != nil {
		return nil, ResolveOutcome{}, err
	}

	outcome := ResolveOutcome{
		NewDevice: cfg.DevicePolicy == model.DevicePolicyWarn,
		Verified:  binding.Verified(),
		BindToken: token,
	}

	util.Info("Device registered",
		zap.String("user_id", userID),
		zap.String("device_id", fingerprint.DeviceID),
		zap.String("policy", string(cfg.DevicePolicy)),
		zap.Bool("verified", outcome.Verified))

	return binding, outcome, nil
}

// register performs the idempotent upsert under a short per-pair lock. A
// racing registration that loses the lock re-reads the winner's binding.
func (r *Registry) register(ctx context.Context, userID, deviceID string, cfg *model.RiskConfiguration) (*model.DeviceBinding, string, error) {
	acquired, err := r.locks.Acquire(ctx, userID, deviceID, r.lockTTL)
	if err != nil {
		// A lock failure must not take down registration; the upsert itself
		// is idempotent on (user, device).
		util.Warn("Registration lock unavailable, proceeding with upsert",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		acquired = true
	} else if acquired {
		defer func() {
			if relErr := r.locks.Release(ctx, userID, deviceID); relErr != nil {
				util.Debug("Failed to release registration lock", zap.Error(relErr))
			}
		}()
	}

	if !acquired {
		winner, err := r.bindings.GetBinding(ctx, userID, deviceID)
		if err == nil && winner != nil && winner.IsActive {
			return winner, "", nil
		}
		// Winner has not committed yet; fall through to the idempotent upsert.
	}

	now := time.Now().UTC()
	token := uuid.New().String()

	hashResult, err := r.hasher.HashBindToken(token)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash bind token: %w", err)
	}
	encodedHash, err := hashResult.Encode()
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode bind token hash: %w", err)
	}

	binding := &model.DeviceBinding{
		UserID:        userID,
		DeviceID:      deviceID,
		UserBucket:    r.buckets.GetUserBucket(userID),
		RegisteredAt:  now,
		IsActive:      true,
		BindTokenHash: encodedHash,
	}
	if !cfg.RequireAdminApproval {
		binding.VerifiedAt = &now
	}

	if err := r.bindings.UpsertBinding(ctx, binding); err != nil {
		return nil, "", fmt.Errorf("failed to register device: %w", err)
	}

	return binding, token, nil
}

// Lookup reads a binding without registering anything.
func (r *Registry) Lookup(ctx context.Context, userID, deviceID string) (*model.DeviceBinding, error) {
	return r.bindings.GetBinding(ctx, userID, deviceID)
}

// ListForUser returns every binding the user has, active or not.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*model.DeviceBinding, error) {
	return r.bindings.ListUserBindings(ctx, userID)
}

// Verify marks a pending binding as admin-approved.
func (r *Registry) Verify(ctx context.Context, userID, deviceID string) error {
	return r.bindings.VerifyBinding(ctx, userID, deviceID, time.Now().UTC())
}

// Revoke deactivates a binding with a reason.
func (r *Registry) Revoke(ctx context.Context, userID, deviceID, reason string) error {
	return r.bindings.RevokeBinding(ctx, userID, deviceID, reason)
}

// PurgeStale removes inactive bindings older than cleanupDays. It is safe to
// interrupt and re-run.
func (r *Registry) PurgeStale(ctx context.Context, cleanupDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -cleanupDays)
	purged, err := r.bindings.PurgeInactiveBindings(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale bindings: %w", err)
	}
	if purged > 0 {
		util.Info("Stale device bindings purged",
			zap.Int("purged", purged),
			zap.Time("cutoff", cutoff))
	}
	return purged, nil
}
