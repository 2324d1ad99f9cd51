package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/device"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

// Maintenance runs the periodic background sweeps: purging stale device
// bindings and expiring block records. Both operate on rows past configured
// bounds and are idempotent, so an interrupted sweep simply resumes on the
// next tick.
type Maintenance struct {
	devices *device.Registry
	blocks  model.BlockRecordRepository
	configs *ConfigProvider

	deviceInterval time.Duration
	blockInterval  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewMaintenance(
	devices *device.Registry,
	blocks model.BlockRecordRepository,
	configs *ConfigProvider,
	deviceInterval, blockInterval time.Duration,
	logger *zap.Logger,
) *Maintenance {
	return &Maintenance{
		devices:        devices,
		blocks:         blocks,
		configs:        configs,
		deviceInterval: deviceInterval,
		blockInterval:  blockInterval,
		logger:         logger,
	}
}

// Start launches the sweep loops. Call Stop to drain them.
func (m *Maintenance) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go m.runDeviceSweep(ctx)
	go m.runBlockSweep(ctx)

	util.Info("Maintenance sweeps started",
		zap.Duration("device_interval", m.deviceInterval),
		zap.Duration("block_interval", m.blockInterval))
}

// Stop cancels the loops and waits for in-flight sweeps to finish.
func (m *Maintenance) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	util.Info("Maintenance sweeps stopped")
}

func (m *Maintenance) runDeviceSweep(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.deviceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepDevices(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Maintenance) sweepDevices(ctx context.Context) {
	cfg := m.configs.Active(ctx)
	if cfg.DeviceAutoCleanupDays <= 0 {
		return
	}

	purged, err := m.devices.PurgeStale(ctx, cfg.DeviceAutoCleanupDays)
	if err != nil {
		util.Error("Device cleanup sweep failed", zap.Error(err))
		return
	}
	util.Debug("Device cleanup sweep completed", zap.Int("purged", purged))
}

func (m *Maintenance) runBlockSweep(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepBlocks(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Maintenance) sweepBlocks(ctx context.Context) {
	expired, err := m.blocks.ExpireBlocks(ctx, time.Now().UTC())
	if err != nil {
		util.Error("Block expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		util.Info("Expired blocks deactivated", zap.Int("expired", expired))
	}
}
