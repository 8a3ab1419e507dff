// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the local dashboard surface listens on (e.g. 127.0.0.1:8090).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the optional grpc health listener; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// PublicURL is the externally reachable base URL of the dashboard, used for share links.
	PublicURL string `mapstructure:"PUBLIC_URL"`
	// CORSAllowedOrigins is a comma-separated list of origins allowed to call the local API. Defaults to PublicURL.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// APIBaseURL is the base of the optimized device endpoints (e.g. https://api.synclab.dev/locateme).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// AuthBaseURL is the base of /auth/* and /logout. Derived from APIBaseURL when empty.
	AuthBaseURL string `mapstructure:"AUTH_BASE_URL"`

	// StateDBDriver selects durable client storage: "sqlite" or "postgres".
	StateDBDriver string `mapstructure:"STATE_DB_DRIVER"`
	// StateDBURL is the sqlite file path or the postgres DSN.
	StateDBURL string `mapstructure:"STATE_DB_URL"`
	// StateEncryptionKey is a base64 32-byte key used to seal the persisted session. Empty stores it unsealed.
	StateEncryptionKey string `mapstructure:"STATE_ENCRYPTION_KEY"`

	// Polling cadences and thresholds, as Go durations ("45s", "5m").
	SidebarPollInterval        string `mapstructure:"SIDEBAR_POLL_INTERVAL"`
	MapPollInterval            string `mapstructure:"MAP_POLL_INTERVAL"`
	SelectedPollInterval       string `mapstructure:"SELECTED_POLL_INTERVAL"`
	StaleThresholdRaw          string `mapstructure:"STALE_THRESHOLD"`
	BackgroundRefreshThreshold string `mapstructure:"BACKGROUND_REFRESH_THRESHOLD"`
	// RouteHours and RouteLimit are passed to the device route endpoint.
	RouteHours int `mapstructure:"ROUTE_HOURS"`
	RouteLimit int `mapstructure:"ROUTE_LIMIT"`
	// TrailMinDistanceMeters collapses consecutive trail points closer than this.
	TrailMinDistanceMeters float64 `mapstructure:"TRAIL_MIN_DISTANCE_METERS"`

	// VisibilityMode is "viewers" (polling pauses without connected viewers) or "always".
	VisibilityMode string `mapstructure:"VISIBILITY_MODE"`
	// ConnectivityProbeInterval is how often the API host is probed; "0" disables the probe.
	ConnectivityProbeInterval string `mapstructure:"CONNECTIVITY_PROBE_INTERVAL"`
	// BatteryPath is the power_supply sysfs root; empty disables the battery capability.
	BatteryPath string `mapstructure:"BATTERY_PATH"`
	// PolicyFile optionally overrides the default Rego polling policy.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	// GeoIPURL is the IP geolocation lookup endpoint.
	GeoIPURL string `mapstructure:"GEO_IP_URL"`
	// DeviceLatitude/DeviceLongitude configure a static position provider (e.g. a kiosk with a known location).
	DeviceLatitude  string `mapstructure:"DEVICE_LATITUDE"`
	DeviceLongitude string `mapstructure:"DEVICE_LONGITUDE"`
	// DefaultLatitude/DefaultLongitude is the last-resort location when every lookup fails.
	DefaultLatitude  float64 `mapstructure:"DEFAULT_LATITUDE"`
	DefaultLongitude float64 `mapstructure:"DEFAULT_LONGITUDE"`

	// TileURLTemplate is the slippy-map tile source with {z}/{x}/{y} placeholders.
	TileURLTemplate string `mapstructure:"TILE_URL_TEMPLATE"`
	// TilePrefetch enables background tile prefetch around resolved locations.
	TilePrefetch bool `mapstructure:"TILE_PREFETCH"`
	// RedisURL backs the tile cache; an in-memory cache is used when empty.
	RedisURL string `mapstructure:"REDIS_URL"`

	// OTLPEndpoint is the OpenTelemetry collector; no-op providers are used when empty.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// TelemetryKafkaBrokers is a comma-separated list of Kafka brokers for dashboard events.
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for dashboard events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the telemetry relay worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL optionally receives dashboard events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", "127.0.0.1:8090")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("PUBLIC_URL", "http://127.0.0.1:8090")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("API_BASE_URL", "https://api.synclab.dev/locateme")
	v.SetDefault("AUTH_BASE_URL", "")
	v.SetDefault("STATE_DB_DRIVER", "sqlite")
	v.SetDefault("STATE_DB_URL", "locateme-state.db")
	v.SetDefault("STATE_ENCRYPTION_KEY", "")
	v.SetDefault("SIDEBAR_POLL_INTERVAL", "5m")
	v.SetDefault("MAP_POLL_INTERVAL", "45s")
	v.SetDefault("SELECTED_POLL_INTERVAL", "15s")
	v.SetDefault("STALE_THRESHOLD", "60s")
	v.SetDefault("BACKGROUND_REFRESH_THRESHOLD", "30s")
	v.SetDefault("ROUTE_HOURS", 24)
	v.SetDefault("ROUTE_LIMIT", 100)
	v.SetDefault("TRAIL_MIN_DISTANCE_METERS", 10.0)
	v.SetDefault("VISIBILITY_MODE", "viewers")
	v.SetDefault("CONNECTIVITY_PROBE_INTERVAL", "15s")
	v.SetDefault("BATTERY_PATH", "/sys/class/power_supply")
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("GEO_IP_URL", "https://ipapi.co/json/")
	v.SetDefault("DEVICE_LATITUDE", "")
	v.SetDefault("DEVICE_LONGITUDE", "")
	v.SetDefault("DEFAULT_LATITUDE", -2.150542)
	v.SetDefault("DEFAULT_LONGITUDE", -79.8917431)
	v.SetDefault("TILE_URL_TEMPLATE", "https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("TILE_PREFETCH", true)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "locateme-telemetry")
	v.SetDefault("KAFKA_GROUP_ID", "locateme-telemetry-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("config: API_BASE_URL must be set")
	}
	cfg.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DeriveAuthBaseURL(cfg.APIBaseURL)
	}
	cfg.AuthBaseURL = strings.TrimSuffix(cfg.AuthBaseURL, "/")

	switch cfg.StateDBDriver {
	case "sqlite", "postgres":
	default:
		return nil, errors.New("config: STATE_DB_DRIVER must be sqlite or postgres")
	}
	switch cfg.VisibilityMode {
	case "viewers", "always":
	default:
		return nil, errors.New("config: VISIBILITY_MODE must be viewers or always")
	}
	if cfg.RouteHours <= 0 {
		cfg.RouteHours = 24
	}
	if cfg.RouteLimit <= 0 {
		cfg.RouteLimit = 100
	}
	if cfg.TrailMinDistanceMeters < 0 {
		return nil, errors.New("config: TRAIL_MIN_DISTANCE_METERS must not be negative")
	}

	return &cfg, nil
}

// DeriveAuthBaseURL strips a trailing /locateme segment: auth endpoints live at the API host root.
func DeriveAuthBaseURL(apiBaseURL string) string {
	base := strings.TrimSuffix(apiBaseURL, "/")
	return strings.TrimSuffix(base, "/locateme")
}

// SidebarInterval returns the device-names cadence. Returns 5m if unset or invalid.
func (c *Config) SidebarInterval() time.Duration {
	return parseDuration(c.SidebarPollInterval, 5*time.Minute)
}

// MapInterval returns the bulk positions cadence. Returns 45s if unset or invalid.
func (c *Config) MapInterval() time.Duration {
	return parseDuration(c.MapPollInterval, 45*time.Second)
}

// SelectedInterval returns the tracked device cadence. Returns 15s if unset or invalid.
func (c *Config) SelectedInterval() time.Duration {
	return parseDuration(c.SelectedPollInterval, 15*time.Second)
}

// StaleThreshold returns the smart refresh threshold. Returns 60s if unset or invalid.
func (c *Config) StaleThreshold() time.Duration {
	return parseDuration(c.StaleThresholdRaw, 60*time.Second)
}

// BackgroundThreshold returns the hidden duration after which a return forces a full refresh. Returns 30s if unset or invalid.
func (c *Config) BackgroundThreshold() time.Duration {
	return parseDuration(c.BackgroundRefreshThreshold, 30*time.Second)
}

// ProbeInterval returns the connectivity probe cadence; zero means disabled.
func (c *Config) ProbeInterval() time.Duration {
	if strings.TrimSpace(c.ConnectivityProbeInterval) == "0" {
		return 0
	}
	return parseDuration(c.ConnectivityProbeInterval, 15*time.Second)
}

// AllowedOrigins returns the CORS origins, falling back to PublicURL.
func (c *Config) AllowedOrigins() []string {
	if out := splitList(c.CORSAllowedOrigins); len(out) > 0 {
		return out
	}
	if c.PublicURL == "" {
		return nil
	}
	return []string{strings.TrimSuffix(c.PublicURL, "/")}
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
