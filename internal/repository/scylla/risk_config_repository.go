package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// RiskConfigurationRepository stores the versioned configuration records and
// the pointer to the single active one.
type RiskConfigurationRepository struct {
	client *ScyllaClient
}

func NewRiskConfigurationRepository(client *ScyllaClient, logger *zap.Logger) *RiskConfigurationRepository {
	return &RiskConfigurationRepository{client: client}
}

func (r *RiskConfigurationRepository) LoadActiveConfiguration(ctx context.Context) (*model.RiskConfiguration, error) {
	var configID string

	err := r.client.ScanWithRetry(r.client.Prepared.GetActivePointer.WithContext(ctx).Bind(), &configID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrConfigurationMissing
		}
		return nil, fmt.Errorf("failed to read active configuration pointer: %w", err)
	}

	cfg := &model.RiskConfiguration{}
	var policy string

	query := r.client.Prepared.GetConfiguration.WithContext(ctx).Bind(configID)
	err = r.client.ScanWithRetry(query,
		&cfg.ConfigID, &cfg.Version, &cfg.IsActive,
		&cfg.MockLocationScore, &cfg.FakeGPSAppScore, &cfg.DeveloperModeScore,
		&cfg.ImpossibleTravelScore, &cfg.CoordinateAnomalyScore, &cfg.DeviceIntegrityScore,
		&cfg.NewDeviceScore,
		&cfg.MockLocationEnabled, &cfg.FakeGPSAppEnabled, &cfg.DeveloperModeEnabled,
		&cfg.ImpossibleTravelEnabled, &cfg.CoordinateAnomalyEnabled, &cfg.DeviceIntegrityEnabled,
		&cfg.LowRiskThreshold, &cfg.MediumRiskThreshold, &cfg.HighRiskThreshold, &cfg.BlockedThreshold,
		&cfg.WarningActionThreshold, &cfg.FlaggedActionThreshold, &cfg.BlockedActionThreshold,
		&cfg.MaxTravelSpeedKmh, &cfg.MinTimeBetweenLocations,
		&cfg.AccuracyThresholdMeters, &cfg.PerfectAccuracyEpsilon,
		&cfg.FakeGPSPackages, &policy, &cfg.MaxDevicesPerUser,
		&cfg.RequireAdminApproval, &cfg.DeviceAutoCleanupDays,
		&cfg.AutoBlockEnabled, &cfg.BlockDurationHours, &cfg.RequireAdminUnblock,
		&cfg.UpdatedBy, &cfg.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			util.Warn("Active configuration pointer references a missing record",
				zap.String("config_id", configID))
			return nil, model.ErrConfigurationMissing
		}
		return nil, fmt.Errorf("failed to load risk configuration: %w", err)
	}

	cfg.DevicePolicy = model.DevicePolicy(policy)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (r *RiskConfigurationRepository) SaveConfiguration(ctx context.Context, cfg *model.RiskConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ConfigID == "" {
		cfg.ConfigID = uuid.New().String()
	}

	query := r.client.Prepared.SaveConfiguration.WithContext(ctx).Bind(
		cfg.ConfigID, cfg.Version, cfg.IsActive,
		cfg.MockLocationScore, cfg.FakeGPSAppScore, cfg.DeveloperModeScore,
		cfg.ImpossibleTravelScore, cfg.CoordinateAnomalyScore, cfg.DeviceIntegrityScore,
		cfg.NewDeviceScore,
		cfg.MockLocationEnabled, cfg.FakeGPSAppEnabled, cfg.DeveloperModeEnabled,
		cfg.ImpossibleTravelEnabled, cfg.CoordinateAnomalyEnabled, cfg.DeviceIntegrityEnabled,
		cfg.LowRiskThreshold, cfg.MediumRiskThreshold, cfg.HighRiskThreshold, cfg.BlockedThreshold,
		cfg.WarningActionThreshold, cfg.FlaggedActionThreshold, cfg.BlockedActionThreshold,
		cfg.MaxTravelSpeedKmh, cfg.MinTimeBetweenLocations,
		cfg.AccuracyThresholdMeters, cfg.PerfectAccuracyEpsilon,
		cfg.FakeGPSPackages, string(cfg.DevicePolicy), cfg.MaxDevicesPerUser,
		cfg.RequireAdminApproval, cfg.DeviceAutoCleanupDays,
		cfg.AutoBlockEnabled, cfg.BlockDurationHours, cfg.RequireAdminUnblock,
		cfg.UpdatedBy, cfg.UpdatedAt)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to save risk configuration",
			zap.String("config_id", cfg.ConfigID),
			zap.Int("version", cfg.Version),
			zap.Error(err))
		return fmt.Errorf("failed to save risk configuration: %w", err)
	}

	if cfg.IsActive {
		pointer := r.client.Prepared.SetActivePointer.WithContext(ctx).Bind(cfg.ConfigID)
		if err := r.client.ExecuteWithRetry(pointer, 3); err != nil {
			return fmt.Errorf("failed to set active configuration pointer: %w", err)
		}
	}

	util.Info("Risk configuration saved",
		zap.String("config_id", cfg.ConfigID),
		zap.Int("version", cfg.Version),
		zap.Bool("is_active", cfg.IsActive))

	return nil
}
