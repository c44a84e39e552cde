package gateway

import (
	"sync/atomic"

	"github.com/nutrify-app/offline-gateway/cache"
	"github.com/nutrify-app/offline-gateway/logger"
	"github.com/nutrify-app/offline-gateway/metrics"
	"github.com/nutrify-app/offline-gateway/types"
)

// Container holds every wired component behind atomic pointers so the
// accessors below stay safe during startup and shutdown races.
type Container struct {
	Config       atomic.Pointer[types.ConfigManager]
	Logger       atomic.Pointer[types.LoggerManager]
	Metrics      atomic.Pointer[types.MetricsManager]
	Store        atomic.Pointer[types.PartitionStore]
	LocalCache   atomic.Pointer[types.LocalCache]
	Credentials  atomic.Pointer[types.CredentialSource]
	Hub          atomic.Pointer[types.NotifyHub]
	Connectivity atomic.Pointer[types.ConnectivityMonitor]
	Clients      atomic.Pointer[types.ClientManager]
	Governor     atomic.Pointer[types.Governor]
	Health       atomic.Pointer[types.HealthManager]
	Cron         atomic.Pointer[types.CronManager]
	TLSManager   atomic.Pointer[types.TLSManager]
	HTTPServer   atomic.Pointer[types.HTTPServer]
}

var globalContainer *Container

func InitContainer() *Container {
	return &Container{}
}

func SetContainer(container *Container) {
	globalContainer = container
}

func Config() types.ConfigManager {
	if ptr := globalContainer.Config.Load(); ptr != nil {
		return *ptr
	}
	panic("ConfigManager not initialized")
}

func Logger() types.LoggerManager {
	if ptr := globalContainer.Logger.Load(); ptr != nil {
		return *ptr
	}
	panic("Logger not initialized")
}

func Store() types.PartitionStore {
	if ptr := globalContainer.Store.Load(); ptr != nil {
		return *ptr
	}
	panic("PartitionStore not initialized")
}

func Clients() types.ClientManager {
	if ptr := globalContainer.Clients.Load(); ptr != nil {
		return *ptr
	}
	panic("ClientManager not initialized")
}

func Governor() types.Governor {
	if ptr := globalContainer.Governor.Load(); ptr != nil {
		return *ptr
	}
	panic("Governor not initialized")
}

func RegisterPartitionStore(storeName string, creator types.PartitionStoreCreator) {
	cache.RegisterPartitionStore(storeName, creator)
}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	metrics.RegisterMetricsManager(metricsManagerName, creator)
}

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	logger.RegisterLogger(loggerName, creator)
}

func (fc *Container) SetConfig(config types.ConfigManager) {
	fc.Config.Store(&config)
}

func (fc *Container) SetLogger(logger types.LoggerManager) {
	fc.Logger.Store(&logger)
}

func (fc *Container) SetMetrics(metrics types.MetricsManager) {
	fc.Metrics.Store(&metrics)
}

func (fc *Container) SetStore(store types.PartitionStore) {
	fc.Store.Store(&store)
}

func (fc *Container) SetLocalCache(local types.LocalCache) {
	fc.LocalCache.Store(&local)
}

func (fc *Container) SetCredentials(credentials types.CredentialSource) {
	fc.Credentials.Store(&credentials)
}

func (fc *Container) SetHub(hub types.NotifyHub) {
	fc.Hub.Store(&hub)
}

func (fc *Container) SetConnectivity(monitor types.ConnectivityMonitor) {
	fc.Connectivity.Store(&monitor)
}

func (fc *Container) SetClients(clients types.ClientManager) {
	fc.Clients.Store(&clients)
}

func (fc *Container) SetGovernor(governor types.Governor) {
	fc.Governor.Store(&governor)
}

func (fc *Container) SetHealth(health types.HealthManager) {
	fc.Health.Store(&health)
}

func (fc *Container) SetCron(cron types.CronManager) {
	fc.Cron.Store(&cron)
}

func (fc *Container) SetTLSManager(tlsManager types.TLSManager) {
	fc.TLSManager.Store(&tlsManager)
}

func (fc *Container) SetHTTPServer(server types.HTTPServer) {
	fc.HTTPServer.Store(&server)
}
