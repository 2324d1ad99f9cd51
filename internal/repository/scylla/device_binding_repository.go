package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// DeviceBindingRepository persists device-to-user bindings. The insert is an
// idempotent upsert on (user_id, device_id): Cassandra-style INSERT is
// last-write-wins, so a racing registration simply observes the winner's row.
type DeviceBindingRepository struct {
	client *ScyllaClient
}

func NewDeviceBindingRepository(client *ScyllaClient, logger *zap.Logger) *DeviceBindingRepository {
	return &DeviceBindingRepository{client: client}
}

func (r *DeviceBindingRepository) UpsertBinding(ctx context.Context, binding *model.DeviceBinding) error {
	var verifiedAt time.Time
	if binding.VerifiedAt != nil {
		verifiedAt = *binding.VerifiedAt
	}

	query := r.client.Prepared.UpsertBinding.WithContext(ctx).Bind(
		binding.UserID, binding.DeviceID, binding.UserBucket,
		binding.RegisteredAt, verifiedAt, binding.IsActive,
		binding.BindTokenHash, binding.RevokedReason)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to upsert device binding",
			zap.String("user_id", binding.UserID),
			zap.String("device_id", binding.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert device binding: %w", err)
	}

	util.Info("Device binding upserted",
		zap.String("user_id", binding.UserID),
		zap.String("device_id", binding.DeviceID),
		zap.Bool("is_active", binding.IsActive))

	return nil
}

func (r *DeviceBindingRepository) GetBinding(ctx context.Context, userID, deviceID string) (*model.DeviceBinding, error) {
	binding := &model.DeviceBinding{}
	var verifiedAt time.Time

	query := r.client.Prepared.GetBinding.WithContext(ctx).Bind(userID, deviceID)

	err := r.client.ScanWithRetry(query,
		&binding.UserID, &binding.DeviceID, &binding.UserBucket,
		&binding.RegisteredAt, &verifiedAt, &binding.IsActive,
		&binding.BindTokenHash, &binding.RevokedReason)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrDeviceNotFound
		}
		util.Error("Failed to get device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get device binding: %w", err)
	}

	if !verifiedAt.IsZero() {
		binding.VerifiedAt = &verifiedAt
	}

	return binding, nil
}

func (r *DeviceBindingRepository) ListUserBindings(ctx context.Context, userID string) ([]*model.DeviceBinding, error) {
	var bindings []*model.DeviceBinding

	iter := r.client.Prepared.ListUserBindings.WithContext(ctx).Bind(userID).Iter()

	for {
		binding := &model.DeviceBinding{}
		var verifiedAt time.Time
		if !iter.Scan(&binding.UserID, &binding.DeviceID, &binding.UserBucket,
			&binding.RegisteredAt, &verifiedAt, &binding.IsActive,
			&binding.BindTokenHash, &binding.RevokedReason) {
			break
		}
		if !verifiedAt.IsZero() {
			binding.VerifiedAt = &verifiedAt
		}
		bindings = append(bindings, binding)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list user bindings",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list user bindings: %w", err)
	}

	return bindings, nil
}

func (r *DeviceBindingRepository) CountActiveBindings(ctx context.Context, userID string) (int, error) {
	bindings, err := r.ListUserBindings(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bindings: %w", err)
	}

	count := 0
	for _, b := range bindings {
		if b.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *DeviceBindingRepository) VerifyBinding(ctx context.Context, userID, deviceID string, verifiedAt time.Time) error {
	// Verify only existing rows; an UPDATE on a missing row would create one.
	if _, err := r.GetBinding(ctx, userID, deviceID); err != nil {
		return err
	}

	query := r.client.Prepared.VerifyBinding.WithContext(ctx).Bind(verifiedAt, userID, deviceID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to verify device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to verify device binding: %w", err)
	}

	util.Info("Device binding verified",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID))

	return nil
}

func (r *DeviceBindingRepository) RevokeBinding(ctx context.Context, userID, deviceID, reason string) error {
	if _, err := r.GetBinding(ctx, userID, deviceID); err != nil {
		return err
	}

	query := r.client.Prepared.RevokeBinding.WithContext(ctx).Bind(reason, userID, deviceID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to revoke device binding",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.String("reason", reason),
			zap.Error(err))
		return fmt.Errorf("failed to revoke device binding: %w", err)
	}

	util.Info("Device binding revoked",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("reason", reason))

	return nil
}

func (r *DeviceBindingRepository) PurgeInactiveBindings(ctx context.Context, cutoff time.Time) (int, error) {
	iter := r.client.Session.Query(`
        SELECT user_id, device_id FROM device_bindings
        WHERE is_active = false AND registered_at < ? ALLOW FILTERING`, cutoff).
		WithContext(ctx).Iter()

	type bindingKey struct {
		UserID   string
		DeviceID string
	}

	var toDelete []bindingKey
	var userID, deviceID string
	for iter.Scan(&userID, &deviceID) {
		toDelete = append(toDelete, bindingKey{UserID: userID, DeviceID: deviceID})
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to query stale bindings: %w", err)
	}

	// Delete in bounded batches so re-running after an interruption only
	// repeats idempotent deletes.
	deleted := 0
	batch := r.client.Batch(gocql.UnloggedBatch)
	for _, key := range toDelete {
		batch.Query(`DELETE FROM device_bindings WHERE user_id = ? AND device_id = ?`,
			key.UserID, key.DeviceID)

		if len(batch.Entries) >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				util.Error("Failed to execute batch delete for stale bindings", zap.Error(err))
				return deleted, fmt.Errorf("failed to purge stale bindings: %w", err)
			}
			deleted += len(batch.Entries)
			batch = r.client.Batch(gocql.UnloggedBatch)
		}
	}
	if len(batch.Entries) > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			util.Error("Failed to execute final batch delete for stale bindings", zap.Error(err))
			return deleted, fmt.Errorf("failed to purge stale bindings: %w", err)
		}
		deleted += len(batch.Entries)
	}

	return deleted, nil
}
