package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// BlockRecordRepository persists user blocks across two tables: user_blocks
// holds the current block per user, block_history keeps every block ever
// issued for audit.
type BlockRecordRepository struct {
	client *ScyllaClient
}

func NewBlockRecordRepository(client *ScyllaClient, logger *zap.Logger) *BlockRecordRepository {
	return &BlockRecordRepository{client: client}
}

func (r *BlockRecordRepository) CreateBlock(ctx context.Context, record *model.BlockRecord) error {
	if record.BlockID == "" {
		record.BlockID = uuid.New().String()
	}

	var expiresAt time.Time
	if record.ExpiresAt != nil {
		expiresAt = *record.ExpiresAt
	}

	// Logged batch keeps the current-block row and the history row in step.
	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.CreateUserBlock.Statement(),
		record.UserID, record.BlockID, record.Reason, record.StartedAt,
		expiresAt, record.AdminOverride, record.IsActive, record.LiftedBy)
	batch.Query(r.client.Prepared.CreateBlockEntry.Statement(),
		record.UserID, record.BlockID, record.Reason, record.StartedAt,
		expiresAt, record.AdminOverride, record.IsActive, record.LiftedBy)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to create block record",
			zap.String("user_id", record.UserID),
			zap.String("block_id", record.BlockID),
			zap.Error(err))
		return fmt.Errorf("failed to create block record: %w", err)
	}

	util.Info("Block record created",
		zap.String("user_id", record.UserID),
		zap.String("block_id", record.BlockID),
		zap.String("reason", record.Reason))

	return nil
}

func (r *BlockRecordRepository) GetActiveBlock(ctx context.Context, userID string) (*model.BlockRecord, error) {
	record := &model.BlockRecord{}
	var expiresAt time.Time

	query := r.client.Prepared.GetUserBlock.WithContext(ctx).Bind(userID)

	err := r.client.ScanWithRetry(query,
		&record.UserID, &record.BlockID, &record.Reason, &record.StartedAt,
		&expiresAt, &record.AdminOverride, &record.IsActive, &record.LiftedBy)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrBlockNotFound
		}
		util.Error("Failed to get active block",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get active block: %w", err)
	}

	if !record.IsActive {
		return nil, model.ErrBlockNotFound
	}
	if !expiresAt.IsZero() {
		record.ExpiresAt = &expiresAt
	}

	return record, nil
}

func (r *BlockRecordRepository) LiftBlock(ctx context.Context, userID, liftedBy string) error {
	record, err := r.GetActiveBlock(ctx, userID)
	if err != nil {
		return err
	}

	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.LiftUserBlock.Statement(), liftedBy, userID)
	batch.Query(`UPDATE block_history SET is_active = false, admin_override = true, lifted_by = ?
        WHERE user_id = ? AND block_id = ?`, liftedBy, userID, record.BlockID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to lift block",
			zap.String("user_id", userID),
			zap.String("lifted_by", liftedBy),
			zap.Error(err))
		return fmt.Errorf("failed to lift block: %w", err)
	}

	util.Info("Block lifted",
		zap.String("user_id", userID),
		zap.String("block_id", record.BlockID),
		zap.String("lifted_by", liftedBy))

	return nil
}

func (r *BlockRecordRepository) ExpireBlocks(ctx context.Context, now time.Time) (int, error) {
	iter := r.client.Session.Query(`
        SELECT user_id, block_id, expires_at FROM user_blocks
        WHERE is_active = true ALLOW FILTERING`).
		WithContext(ctx).Iter()

	type blockKey struct {
		UserID  string
		BlockID string
	}

	var toExpire []blockKey
	var userID, blockID string
	var expiresAt time.Time
	for iter.Scan(&userID, &blockID, &expiresAt) {
		// Zero expiry means the block waits for an admin; never auto-expire.
		if !expiresAt.IsZero() && now.After(expiresAt) {
			toExpire = append(toExpire, blockKey{UserID: userID, BlockID: blockID})
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to query expiring blocks: %w", err)
	}

	expired := 0
	for _, key := range toExpire {
		batch := r.client.Batch(gocql.LoggedBatch)
		batch.Query(`UPDATE user_blocks SET is_active = false WHERE user_id = ?`, key.UserID)
		batch.Query(`UPDATE block_history SET is_active = false WHERE user_id = ? AND block_id = ?`,
			key.UserID, key.BlockID)
		if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
			util.Error("Failed to expire block",
				zap.String("user_id", key.UserID),
				zap.Error(err))
			return expired, fmt.Errorf("failed to expire blocks: %w", err)
		}
		expired++
	}

	if expired > 0 {
		util.Info("Expired blocks deactivated", zap.Int("expired", expired))
	}

	return expired, nil
}
