package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-service/internal/device"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// AdminService backs the administrative surface: device approval and
// revocation, manual blocks and unblocks, configuration updates, and the
// review queue.
type AdminService struct {
	devices    *device.Registry
	blocks     model.BlockRecordRepository
	blockCache model.BlockCache
	configs    *ConfigProvider
	attempts   model.AttemptRepository
	publisher  *VerdictPublisher
	logger     *zap.Logger
}

func NewAdminService(
	devices *device.Registry,
	blocks model.BlockRecordRepository,
	blockCache model.BlockCache,
	configs *ConfigProvider,
	attempts model.AttemptRepository,
	publisher *VerdictPublisher,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		devices:    devices,
		blocks:     blocks,
		blockCache: blockCache,
		configs:    configs,
		attempts:   attempts,
		publisher:  publisher,
		logger:     logger,
	}
}

// -------------------- DEVICES --------------------

func (s *AdminService) ListDevices(ctx context.Context, userID string) ([]*model.DeviceBinding, error) {
	if !util.ValidIdentifier(userID) {
		return nil, fmt.Errorf("invalid user id")
	}
	return s.devices.ListForUser(ctx, userID)
}

func (s *AdminService) VerifyDevice(ctx context.Context, userID, deviceID string) error {
	if err := s.devices.Verify(ctx, userID, deviceID); err != nil {
		return err
	}
	util.Info("Device binding verified by admin",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID))
	return nil
}

func (s *AdminService) RevokeDevice(ctx context.Context, userID, deviceID, reason string) error {
	if reason == "" {
		reason = "revoked_by_admin"
	}
	if err := s.devices.Revoke(ctx, userID, deviceID, reason); err != nil {
		return err
	}
	util.Info("Device binding revoked by admin",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("reason", reason))
	return nil
}

// -------------------- BLOCKS --------------------

func (s *AdminService) GetBlock(ctx context.Context, userID string) (*model.BlockRecord, error) {
	return s.blocks.GetActiveBlock(ctx, userID)
}

// BlockUser creates a manual block. A zero duration means the block persists
// until an administrator lifts it.
func (s *AdminService) BlockUser(ctx context.Context, userID, reason string, duration time.Duration) (*model.BlockRecord, error) {
	if !util.ValidIdentifier(userID) {
		return nil, fmt.Errorf("invalid user id")
	}
	if reason == "" {
		reason = "blocked_by_admin"
	}

	now := time.Now().UTC()
	record := &model.BlockRecord{
		BlockID:   uuid.New().String(),
		UserID:    userID,
		Reason:    reason,
		StartedAt: now,
		IsActive:  true,
	}
	if duration > 0 {
		expiry := now.Add(duration)
		record.ExpiresAt = &expiry
	}

	if err := s.blocks.CreateBlock(ctx, record); err != nil {
		return nil, err
	}
	if s.blockCache != nil {
		_ = s.blockCache.ClearBlock(ctx, userID)
	}

	util.Warn("User blocked by admin",
		zap.String("user_id", userID),
		zap.String("block_id", record.BlockID),
		zap.String("reason", reason))

	return record, nil
}

// UnblockUser lifts the user's active block and drops the cached entry so
// the next attempt sees the lift immediately.
func (s *AdminService) UnblockUser(ctx context.Context, userID, liftedBy string) error {
	if err := s.blocks.LiftBlock(ctx, userID, liftedBy); err != nil {
		if errors.Is(err, model.ErrBlockNotFound) {
			return err
		}
		return fmt.Errorf("failed to lift block: %w", err)
	}

	if s.blockCache != nil {
		if err := s.blockCache.ClearBlock(ctx, userID); err != nil {
			util.Warn("Failed to clear cached block after lift",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	util.Info("User unblocked",
		zap.String("user_id", userID),
		zap.String("lifted_by", liftedBy))
	return nil
}

// -------------------- CONFIGURATION --------------------

func (s *AdminService) ActiveConfiguration(ctx context.Context) *model.RiskConfiguration {
	return s.configs.Active(ctx)
}

func (s *AdminService) UpdateConfiguration(ctx context.Context, cfg *model.RiskConfiguration) error {
	return s.configs.Update(ctx, cfg)
}

// -------------------- AUDIT --------------------

func (s *AdminService) UserVerdicts(ctx context.Context, userID string, limit int) ([]*model.Verdict, error) {
	if !util.ValidIdentifier(userID) {
		return nil, fmt.Errorf("invalid user id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.attempts.ListUserVerdicts(ctx, userID, limit)
}

func (s *AdminService) ReviewQueue(ctx context.Context, action model.Action, limit int) ([]*model.Verdict, error) {
	return s.publisher.SearchReviewQueue(ctx, action, limit)
}
