package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// ConfigProvider hands the engine an immutable configuration snapshot per
// evaluation. Lookups go Redis first, then Scylla, collapsed through
// singleflight so a cache miss under load issues one store read. When no
// active configuration can be loaded the provider falls back to the
// conservative fail-safe snapshot rather than refusing check-ins.
type ConfigProvider struct {
	store    model.RiskConfigurationRepository
	cache    model.ConfigCache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   *zap.Logger
}

func NewConfigProvider(store model.RiskConfigurationRepository, cache model.ConfigCache, cacheTTL time.Duration, logger *zap.Logger) *ConfigProvider {
	return &ConfigProvider{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Active returns the current configuration snapshot. The returned value must
// be treated as read-only; concurrent evaluations share it.
func (p *ConfigProvider) Active(ctx context.Context) *model.RiskConfiguration {
	if p.cache != nil {
		cached, err := p.cache.GetActiveConfiguration(ctx)
		if err != nil {
			util.Warn("Configuration cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached
		}
	}

	v, err, _ := p.group.Do("active", func() (interface{}, error) {
		return p.loadAndCache(ctx)
	})
	if err != nil {
		if errors.Is(err, model.ErrConfigurationMissing) {
			util.Warn("No active risk configuration, using fail-safe defaults")
		} else {
			util.Error("Failed to load risk configuration, using fail-safe defaults", zap.Error(err))
		}
		return model.FailSafeConfig()
	}

	return v.(*model.RiskConfiguration)
}

func (p *ConfigProvider) loadAndCache(ctx context.Context) (*model.RiskConfiguration, error) {
	cfg, err := p.store.LoadActiveConfiguration(ctx)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.SetActiveConfiguration(ctx, cfg, p.cacheTTL); err != nil {
			util.Warn("Failed to cache configuration", zap.Error(err))
		}
	}

	return cfg, nil
}

// Update validates and persists a new configuration version, then drops the
// cached snapshot so the change propagates immediately instead of waiting out
// the TTL.
func (p *ConfigProvider) Update(ctx context.Context, cfg *model.RiskConfiguration) error {
	current, err := p.store.LoadActiveConfiguration(ctx)
	if err != nil && !errors.Is(err, model.ErrConfigurationMissing) {
		return err
	}
	if current != nil {
		cfg.Version = current.Version + 1
	} else if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.IsActive = true
	cfg.UpdatedAt = time.Now().UTC()

	if err := p.store.SaveConfiguration(ctx, cfg); err != nil {
		return err
	}

	if p.cache != nil {
		if err := p.cache.InvalidateConfiguration(ctx); err != nil {
			util.Warn("Failed to invalidate configuration cache", zap.Error(err))
		}
	}

	util.Info("Risk configuration updated",
		zap.String("config_id", cfg.ConfigID),
		zap.Int("version", cfg.Version),
		zap.String("updated_by", cfg.UpdatedBy))

	return nil
}
