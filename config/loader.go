package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nutrify-app/offline-gateway/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.GatewayConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Defaults mirrors the behavior the browser build shipped with: one app
// origin, the Nutrify API surface classified network-first, Next.js static
// prefixes cache-first, and the recommendations endpoint wired for the
// offline-fallback partition.
func (l *Loader) Defaults() *types.GatewayConfig {
	return &types.GatewayConfig{
		Name:    "offline-gateway",
		Version: "v1",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 10,
			},
			TLS: &types.TLSConfig{
				Enabled: false,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "debug",
		},
		Store: &types.StoreConfig{
			Type:      "memory",
			Prefix:    "nutrify",
			APITTL:    time.Hour,
			StaticTTL: 0,
		},
		LocalCache: &types.LocalCacheConfig{
			Enabled:           true,
			Path:              "data/localcache.db",
			CompressThreshold: 4096,
		},
		Routing: &types.RoutingConfig{
			Origins: []string{"localhost:8080"},
			APIPrefixes: []string{
				"/items",
				"/random-items",
				"/pending-items",
				"/profile",
				"/profile-picture",
				"/admin",
				"/auth",
				"/login",
				"/register",
				"/logout",
			},
			APIEndpoints:        []string{"/predict"},
			RecommendationsPath: "/random-items",
			StaticPrefixes:      []string{"/_next/static/", "/static/"},
		},
		Precache: &types.PrecacheConfig{
			Essential: []string{
				"/",
				"/offline.html",
				"/NutrifyLogo.svg",
				"/manifest.json",
			},
			Additional: []string{
				"/favicon.ico",
				"/icons/icon-192.png",
				"/icons/icon-512.png",
			},
		},
		Upstreams: map[string]*types.UpstreamConfig{
			"app": {
				BaseURL: "http://localhost:3000",
				Timeout: 10 * time.Second,
			},
			"api": {
				BaseURL: "http://localhost:5000",
				Timeout: 10 * time.Second,
				CircuitBreaker: &types.CircuitBreakerConfig{
					Enabled:          true,
					FailureThreshold: 5,
					RecoveryTimeout:  60 * time.Second,
					HalfOpenRequests: 3,
				},
			},
			"predict": {
				BaseURL: "http://localhost:7000",
				Timeout: 10 * time.Second,
			},
		},
		Connectivity: &types.ConnectivityConfig{
			Upstream:      "api",
			ProbePath:     "/random-items",
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Notify: &types.NotifyConfig{
			Enabled: true,
			Addr:    ":8082",
			Path:    "/events",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "prometheus",
			Path:    "/metrics",
		},
		Health: &types.HealthConfig{
			Enabled: true,
			Path:    "/healthz",
		},
		Cron: &types.CronConfig{
			Enabled:         false,
			Timezone:        "UTC",
			SweepSchedule:   "0 */10 * * * *",
			JanitorSchedule: "0 0 * * * *",
		},
	}
}
