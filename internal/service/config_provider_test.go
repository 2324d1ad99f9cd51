package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/model"
)

type fakeConfigCache struct {
	cfg          *model.RiskConfiguration
	sets         int
	invalidates  int
	getErr       error
	lastTTL      time.Duration
}

func (f *fakeConfigCache) GetActiveConfiguration(ctx context.Context) (*model.RiskConfiguration, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.cfg, nil
}

func (f *fakeConfigCache) SetActiveConfiguration(ctx context.Context, cfg *model.RiskConfiguration, ttl time.Duration) error {
	f.cfg = cfg
	f.sets++
	f.lastTTL = ttl
	return nil
}

func (f *fakeConfigCache) InvalidateConfiguration(ctx context.Context) error {
	f.cfg = nil
	f.invalidates++
	return nil
}

func storedConfig(version int) *model.RiskConfiguration {
	cfg := model.FailSafeConfig()
	cfg.ConfigID = "cfg-stored"
	cfg.Version = version
	return cfg
}

func TestActiveReadsFromStoreAndCaches(t *testing.T) {
	store := &fakeConfigStore{cfg: storedConfig(4)}
	cache := &fakeConfigCache{}
	p := NewConfigProvider(store, cache, 10*time.Second, zap.NewNop())

	cfg := p.Active(context.Background())
	if cfg.Version != 4 {
		t.Errorf("Version = %d, want 4", cfg.Version)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}
	if cache.lastTTL != 10*time.Second {
		t.Errorf("cache TTL = %v, want 10s", cache.lastTTL)
	}
}

func TestActivePrefersCache(t *testing.T) {
	store := &fakeConfigStore{loadErr: errors.New("store must not be hit")}
	cache := &fakeConfigCache{cfg: storedConfig(9)}
	p := NewConfigProvider(store, cache, 10*time.Second, zap.NewNop())

	cfg := p.Active(context.Background())
	if cfg.Version != 9 {
		t.Errorf("Version = %d, want 9 from cache", cfg.Version)
	}
}

func TestActiveFallsBackToFailSafe(t *testing.T) {
	store := &fakeConfigStore{} // no configuration at all
	p := NewConfigProvider(store, nil, 10*time.Second, zap.NewNop())

	cfg := p.Active(context.Background())
	if cfg.ConfigID != "failsafe" || cfg.Version != 0 {
		t.Errorf("fallback = %s v%d, want failsafe v0", cfg.ConfigID, cfg.Version)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("fail-safe snapshot invalid: %v", err)
	}
}

func TestActiveFailSafeOnStoreError(t *testing.T) {
	store := &fakeConfigStore{loadErr: errors.New("scylla timeout")}
	cache := &fakeConfigCache{getErr: errors.New("redis down")}
	p := NewConfigProvider(store, cache, 10*time.Second, zap.NewNop())

	cfg := p.Active(context.Background())
	if cfg.ConfigID != "failsafe" {
		t.Errorf("ConfigID = %s, want failsafe when both tiers fail", cfg.ConfigID)
	}
}

func TestUpdateIncrementsVersionAndInvalidates(t *testing.T) {
	store := &fakeConfigStore{cfg: storedConfig(4)}
	cache := &fakeConfigCache{cfg: storedConfig(4)}
	p := NewConfigProvider(store, cache, 10*time.Second, zap.NewNop())

	next := storedConfig(0)
	next.ConfigID = "cfg-next"
	next.UpdatedBy = "admin-1"
	if err := p.Update(context.Background(), next); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if next.Version != 5 {
		t.Errorf("Version = %d, want 5", next.Version)
	}
	if !next.IsActive {
		t.Error("updated configuration not marked active")
	}
	if cache.invalidates != 1 {
		t.Errorf("cache invalidates = %d, want 1", cache.invalidates)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d configurations, want 1", len(store.saved))
	}

	// The next read sees the new version.
	if cfg := p.Active(context.Background()); cfg.Version != 5 {
		t.Errorf("Active().Version = %d, want 5 after update", cfg.Version)
	}
}

func TestUpdateFirstConfigurationStartsAtVersionOne(t *testing.T) {
	store := &fakeConfigStore{}
	p := NewConfigProvider(store, nil, 10*time.Second, zap.NewNop())

	first := storedConfig(0)
	if err := p.Update(context.Background(), first); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if first.Version != 1 {
		t.Errorf("Version = %d, want 1 for first configuration", first.Version)
	}
}
