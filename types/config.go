package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *GatewayConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type GatewayConfig struct {
	Name         string                     `yaml:"name" json:"name" validate:"required"`
	Version      string                     `yaml:"version" json:"version" validate:"required"`
	Server       *ServerConfig              `yaml:"server" json:"server"`
	Logger       *LoggerConfig              `yaml:"logger" json:"logger"`
	Store        *StoreConfig               `yaml:"store" json:"store"`
	LocalCache   *LocalCacheConfig          `yaml:"local_cache" json:"local_cache"`
	Routing      *RoutingConfig             `yaml:"routing" json:"routing"`
	Precache     *PrecacheConfig            `yaml:"precache" json:"precache"`
	Upstreams    map[string]*UpstreamConfig `yaml:"upstreams" json:"upstreams"`
	Connectivity *ConnectivityConfig        `yaml:"connectivity" json:"connectivity"`
	Notify       *NotifyConfig              `yaml:"notify" json:"notify"`
	Metrics      *MetricsConfig             `yaml:"metrics" json:"metrics"`
	Health       *HealthConfig              `yaml:"health" json:"health"`
	Cron         *CronConfig                `yaml:"cron" json:"cron"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CertFile      string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile       string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	AutoCert      bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains       []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Email         string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir      string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	ACMEDirectory string   `yaml:"acme_directory,omitempty" json:"acme_directory,omitempty"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

// StoreConfig selects and configures the partition store backend.
type StoreConfig struct {
	Type      string        `yaml:"type" json:"type" validate:"required"`
	Prefix    string        `yaml:"prefix" json:"prefix" validate:"required"`
	Config    interface{}   `yaml:"config" json:"config"`
	APITTL    time.Duration `yaml:"api_ttl" json:"api_ttl" validate:"min=0"`
	StaticTTL time.Duration `yaml:"static_ttl" json:"static_ttl" validate:"min=0"`
}

type LocalCacheConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	Path              string `yaml:"path" json:"path"`
	CompressThreshold int    `yaml:"compress_threshold" json:"compress_threshold" validate:"min=0"`
}

// RoutingConfig drives request classification in the governor.
type RoutingConfig struct {
	Origins             []string `yaml:"origins" json:"origins"`
	APIPrefixes         []string `yaml:"api_prefixes" json:"api_prefixes"`
	APIEndpoints        []string `yaml:"api_endpoints" json:"api_endpoints"`
	RecommendationsPath string   `yaml:"recommendations_path" json:"recommendations_path"`
	StaticPrefixes      []string `yaml:"static_prefixes" json:"static_prefixes"`
}

type PrecacheConfig struct {
	Essential       []string `yaml:"essential" json:"essential"`
	Additional      []string `yaml:"additional" json:"additional"`
	OfflinePagePath string   `yaml:"offline_page_path" json:"offline_page_path"`
}

type UpstreamConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type ConnectivityConfig struct {
	Upstream      string        `yaml:"upstream" json:"upstream"`
	ProbePath     string        `yaml:"probe_path" json:"probe_path"`
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
}

type NotifyConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type"`
	Path    string      `yaml:"path" json:"path"`
	Config  interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type CronConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Timezone        string `yaml:"timezone" json:"timezone"`
	SweepSchedule   string `yaml:"sweep_schedule" json:"sweep_schedule"`
	JanitorSchedule string `yaml:"janitor_schedule" json:"janitor_schedule"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
