package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/client"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

const activeConfigKey = "risk_config:active"

// ConfigCache holds the serialized active configuration for a short TTL so
// the request path avoids a Scylla round-trip per evaluation while admin
// updates still propagate within the TTL window.
type ConfigCache struct {
	client *client.RedisClient
}

func NewConfigCache(client *client.RedisClient) *ConfigCache {
	return &ConfigCache{client: client}
}

func (c *ConfigCache) GetActiveConfiguration(ctx context.Context) (*model.RiskConfiguration, error) {
	data, found, err := c.client.GetResult(ctx, activeConfigKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached configuration: %w", err)
	}
	if !found {
		return nil, nil
	}

	cfg := &model.RiskConfiguration{}
	if err := json.Unmarshal([]byte(data), cfg); err != nil {
		util.Warn("Cached configuration is corrupt, dropping it", zap.Error(err))
		_ = c.client.Del(ctx, activeConfigKey)
		return nil, nil
	}

	return cfg, nil
}

func (c *ConfigCache) SetActiveConfiguration(ctx context.Context, cfg *model.RiskConfiguration, ttl time.Duration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}

	if err := c.client.Set(ctx, activeConfigKey, data, ttl); err != nil {
		util.Error("Failed to cache configuration",
			zap.String("config_id", cfg.ConfigID),
			zap.Error(err))
		return fmt.Errorf("failed to cache configuration: %w", err)
	}

	return nil
}

func (c *ConfigCache) InvalidateConfiguration(ctx context.Context) error {
	if err := c.client.Del(ctx, activeConfigKey); err != nil {
		return fmt.Errorf("failed to invalidate configuration cache: %w", err)
	}
	util.Debug("Configuration cache invalidated")
	return nil
}
