// Package config provides configuration management for the swcache runtime
package config

import (
	"time"
)

// Config represents the application configuration structure
// The struct tags are shared by SimpleLoader and Bofry/config
type Config struct {
	Server   ServerConfig   `yaml:"server" env:"SERVER"`
	Logger   LoggerConfig   `yaml:"logger" env:"LOGGER"`
	Worker   WorkerConfig   `yaml:"worker" env:"WORKER"`
	Cache    CacheConfig    `yaml:"cache" env:"CACHE"`
	Precache PrecacheConfig `yaml:"precache" env:"PRECACHE"`
	Routes   []RouteConfig  `yaml:"routes" validate:"dive"`
	Fallback FallbackConfig `yaml:"fallback" env:"FALLBACK"`
	Fetch    FetchConfig    `yaml:"fetch" env:"FETCH"`
	Control  ControlConfig  `yaml:"control" env:"CONTROL"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS" default:":8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"10s"`
	Recovery        bool          `yaml:"recovery" env:"RECOVERY" default:"true"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level            string   `yaml:"level" env:"LEVEL" default:"info" validate:"oneof=debug info warn error dpanic panic fatal"`
	Encoding         string   `yaml:"encoding" env:"ENCODING" default:"json" validate:"oneof=json console"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS" default:"stdout"`
	ErrorOutputPaths []string `yaml:"error_output_paths" env:"ERROR_OUTPUT_PATHS" default:"stderr"`
}

// WorkerConfig describes the site the runtime sits in front of
type WorkerConfig struct {
	// Origin is the site origin inbound paths are resolved against
	Origin string `yaml:"origin" env:"ORIGIN" validate:"required,url"`
	// Scope becomes the default cache name suffix
	Scope string `yaml:"scope" env:"SCOPE"`
	// DefaultStrategy handles GET requests no route matched; empty passes them through
	DefaultStrategy string `yaml:"default_strategy" env:"DEFAULT_STRATEGY" validate:"omitempty,oneof=stale-while-revalidate network-first"`
	// NavigationPreload starts the network request for navigations before routing
	NavigationPreload bool `yaml:"navigation_preload" env:"NAVIGATION_PRELOAD"`
}

// CacheConfig selects and tunes cache storage
type CacheConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER" default:"memory" validate:"oneof=memory sqlite"`
	DSN      string `yaml:"dsn" env:"DSN" default:"swcache.db"`
	MaxBytes int64  `yaml:"max_bytes" env:"MAX_BYTES"`
	Compress bool   `yaml:"compress" env:"COMPRESS" default:"true"`
	Prefix   string `yaml:"prefix" env:"PREFIX" default:"swcache"`
	Suffix   string `yaml:"suffix" env:"SUFFIX"`
	// PurgeOnQuotaError deletes runtime caches when storage is full
	PurgeOnQuotaError bool `yaml:"purge_on_quota_error" env:"PURGE_ON_QUOTA_ERROR" default:"true"`
}

// PrecacheConfig configures the precache manifest and route
type PrecacheConfig struct {
	Manifest            string   `yaml:"manifest" env:"MANIFEST"`
	Watch               bool     `yaml:"watch" env:"WATCH"`
	FallbackToNetwork   bool     `yaml:"fallback_to_network" env:"FALLBACK_TO_NETWORK" default:"true"`
	IgnoreURLParameters []string `yaml:"ignore_url_parameters" env:"IGNORE_URL_PARAMETERS"`
	DirectoryIndex      string   `yaml:"directory_index" env:"DIRECTORY_INDEX" default:"index.html"`
	CleanURLs           bool     `yaml:"clean_urls" env:"CLEAN_URLS" default:"true"`
	CleanupOutdated     bool     `yaml:"cleanup_outdated" env:"CLEANUP_OUTDATED" default:"true"`
}

// RouteConfig declares one runtime caching route
type RouteConfig struct {
	Name string `yaml:"name"`
	// Match is how Pattern is interpreted
	Match   string `yaml:"match" validate:"required,oneof=host regexp exact prefix"`
	Pattern string `yaml:"pattern" validate:"required"`
	Method  string `yaml:"method"`
	// Strategy names the caching strategy
	Strategy       string        `yaml:"strategy" validate:"required,oneof=stale-while-revalidate network-first"`
	CacheName      string        `yaml:"cache_name"`
	NetworkTimeout time.Duration `yaml:"network_timeout" validate:"gte=0"`
	// Statuses overrides the cacheable statuses (default 0 and 200)
	Statuses []int `yaml:"statuses" validate:"dive,gte=0,lte=599"`
}

// FallbackConfig configures the offline fallback recipe
type FallbackConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Page    string `yaml:"page" env:"PAGE" default:"offline.html"`
	Image   string `yaml:"image" env:"IMAGE"`
	Font    string `yaml:"font" env:"FONT"`
}

// FetchConfig tunes the network client
type FetchConfig struct {
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT" default:"30s"`
	MaxResponseBytes int64         `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES" default:"33554432"`
	MaxIdleConns     int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" default:"100"`
	UserAgent        string        `yaml:"user_agent" env:"USER_AGENT" default:"swcache"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// CircuitBreakerConfig makes fetches to a failing origin fail fast
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" env:"ENABLED"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD" default:"5" validate:"gte=0"`
	OpenTimeout      time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT" default:"30s" validate:"gte=0"`
	HalfOpenRequests int           `yaml:"half_open_requests" env:"HALF_OPEN_REQUESTS" default:"1" validate:"gte=0"`
}

// ControlConfig configures the control API
type ControlConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED" default:"true"`
	// JWTSecret guards the control API when set
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" resource:".jwt-secret"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" default:"swcache"`
	TokenTTL        time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" default:"1h"`
	RateLimit       float64       `yaml:"rate_limit" env:"RATE_LIMIT" default:"10" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" env:"RATE_BURST" default:"20" validate:"gte=0"`
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE" default:"1024"`
	MaxMessageSize  int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE" default:"65536"`
	PongWait        time.Duration `yaml:"pong_wait" env:"PONG_WAIT" default:"60s"`
	PingPeriod      time.Duration `yaml:"ping_period" env:"PING_PERIOD" default:"54s"`
}

// Loader interface for configuration loading
type Loader interface {
	Load(cfg *Config) error
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Recovery:        true,
		},
		Logger: LoggerConfig{
			Level:            "info",
			Encoding:         "json",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
		Worker: WorkerConfig{
			Origin: "http://localhost:8080",
		},
		Cache: CacheConfig{
			Driver:            "memory",
			DSN:               "swcache.db",
			Compress:          true,
			Prefix:            "swcache",
			PurgeOnQuotaError: true,
		},
		Precache: PrecacheConfig{
			FallbackToNetwork:   true,
			IgnoreURLParameters: []string{"^utm_", "^fbclid$"},
			DirectoryIndex:      "index.html",
			CleanURLs:           true,
			CleanupOutdated:     true,
		},
		Fallback: FallbackConfig{
			Page: "offline.html",
		},
		Fetch: FetchConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 32 << 20,
			MaxIdleConns:     100,
			UserAgent:        "swcache",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Control: ControlConfig{
			Enabled:         true,
			Issuer:          "swcache",
			TokenTTL:        time.Hour,
			RateLimit:       10,
			RateBurst:       20,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			MaxMessageSize:  64 * 1024,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
		},
	}
}
