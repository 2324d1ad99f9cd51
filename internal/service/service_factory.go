package service

import (
	"go.uber.org/zap"

	"attendance-service/internal/config"
	"attendance-service/internal/device"
	"attendance-service/internal/geo"
	"attendance-service/internal/model"
	"attendance-service/internal/risk"
)

// Dependencies carries everything the service layer needs from the outer
// factory: repositories, caches, and the verdict fan-out.
type Dependencies struct {
	Bindings  model.DeviceBindingRepository
	Blocks    model.BlockRecordRepository
	Configs   model.RiskConfigurationRepository
	Locations model.WorkLocationRepository
	Attempts  model.AttemptRepository

	ConfigCache model.ConfigCache
	BlockCache  model.BlockCache
	RegLock     model.RegistrationLock

	Registry  *device.Registry
	Publisher *VerdictPublisher
}

// ServiceFactory creates and caches service-layer singletons.
type ServiceFactory struct {
	deps   Dependencies
	cfg    *config.Config
	logger *zap.Logger

	configProvider *ConfigProvider
	orchestrator   *Orchestrator
	adminService   *AdminService
	maintenance    *Maintenance
}

func NewServiceFactory(deps Dependencies, cfg *config.Config, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

func (f *ServiceFactory) ConfigProvider() *ConfigProvider {
	if f.configProvider == nil {
		f.configProvider = NewConfigProvider(
			f.deps.Configs,
			f.deps.ConfigCache,
			f.cfg.Engine.ConfigCacheTTL,
			f.logger,
		)
	}
	return f.configProvider
}

func (f *ServiceFactory) Orchestrator() *Orchestrator {
	if f.orchestrator == nil {
		f.orchestrator = NewOrchestrator(
			f.ConfigProvider(),
			f.deps.Locations,
			geo.NewEvaluator(f.logger),
			f.deps.Registry,
			risk.NewScorer(f.logger),
			risk.NewDecider(f.logger),
			f.deps.Blocks,
			f.deps.BlockCache,
			f.deps.Attempts,
			f.deps.Publisher,
			f.cfg.Engine.AttemptHistoryLimit,
			f.cfg.Engine.BlockCacheMaxTTL,
			f.logger,
		)
	}
	return f.orchestrator
}

func (f *ServiceFactory) AdminService() *AdminService {
	if f.adminService == nil {
		f.adminService = NewAdminService(
			f.deps.Registry,
			f.deps.Blocks,
			f.deps.BlockCache,
			f.ConfigProvider(),
			f.deps.Attempts,
			f.deps.Publisher,
			f.logger,
		)
	}
	return f.adminService
}

func (f *ServiceFactory) Maintenance() *Maintenance {
	if f.maintenance == nil {
		f.maintenance = NewMaintenance(
			f.deps.Registry,
			f.deps.Blocks,
			f.ConfigProvider(),
			f.cfg.Engine.DeviceSweepInterval,
			f.cfg.Engine.BlockSweepInterval,
			f.logger,
		)
	}
	return f.maintenance
}

// Cleanup stops background work owned by the services.
func (f *ServiceFactory) Cleanup() {
	if f.maintenance != nil {
		f.maintenance.Stop()
	}
}
