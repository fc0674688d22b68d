package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Graph   GraphConfig
	Logging LoggingConfig
	Mpesa   MpesaConfig
	Store   StoreConfig
	Ledger  LedgerConfig
	Events  EventsConfig
	Auth    AuthConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	AllowedOriginsCSV string
}

// GraphConfig describes connectivity to the Neo4j payment store.
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	Colored       bool
	IncludeCaller bool
}

// MpesaConfig holds the merchant credentials and gateway selection.
// Missing credentials are not a load error; payments fail at call time.
type MpesaConfig struct {
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	Passkey          string
	CallbackURL      string
	APIURL           string
	DemoMode         bool
	RequestTimeout   time.Duration
	SimulatedLatency time.Duration
	Retries          int
}

// StoreBackend names a payment store implementation.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreGraph  StoreBackend = "graph"
)

// StoreConfig selects where payment records live.
type StoreConfig struct {
	Backend StoreBackend
}

// LedgerConfig points at the Postgres ledger. An empty URL keeps the
// ledger in memory.
type LedgerConfig struct {
	DatabaseURL string
	Migrate     bool
}

// EventsConfig configures payment event publishing. No brokers disables it.
type EventsConfig struct {
	BrokersCSV string
	Topic      string
}

// AuthConfig locates the user credentials file.
type AuthConfig struct {
	ConfigPath string
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultGraphMaxSessions = 10
	defaultMpesaAPIURL      = "https://sandbox.safaricom.co.ke"
	defaultMpesaTimeout     = 10 * time.Second
	defaultMpesaLatency     = 1500 * time.Millisecond
	defaultMpesaRetries     = 1
	defaultKafkaTopic       = "mpesa.payments"
	defaultAuthConfigPath   = "auth_config.yaml"
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			MetricsEnabled:    parseBoolWithDefault("SERVER_METRICS_ENABLED", false),
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			Colored:       parseBoolWithDefault("LOG_COLOR", false),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Mpesa: MpesaConfig{
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      os.Getenv("MPESA_SHORTCODE"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
			APIURL:         strings.TrimRight(valueOrDefault("MPESA_API_URL", defaultMpesaAPIURL), "/"),
			DemoMode:       parseBoolWithDefault("MPESA_DEMO_MODE", true),
			Retries:        parseIntWithDefault("MPESA_RETRIES", defaultMpesaRetries),
		},
		Ledger: LedgerConfig{
			DatabaseURL: os.Getenv("LEDGER_DATABASE_URL"),
			Migrate:     parseBoolWithDefault("LEDGER_MIGRATE", true),
		},
		Events: EventsConfig{
			BrokersCSV: os.Getenv("KAFKA_BROKERS"),
			Topic:      valueOrDefault("KAFKA_TOPIC", defaultKafkaTopic),
		},
		Auth: AuthConfig{
			ConfigPath: valueOrDefault("AUTH_CONFIG_PATH", defaultAuthConfigPath),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"MPESA_REQUEST_TIMEOUT", defaultMpesaTimeout, &cfg.Mpesa.RequestTimeout},
		{"MPESA_SIMULATED_LATENCY", defaultMpesaLatency, &cfg.Mpesa.SimulatedLatency},
	}
	for _, d := range durations {
		if *d.dst, err = parseDurationWithDefault(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}

	switch backend := StoreBackend(strings.ToLower(valueOrDefault("PAYMENT_STORE", string(StoreMemory)))); backend {
	case StoreMemory, StoreGraph:
		cfg.Store.Backend = backend
	default:
		return Config{}, fmt.Errorf("invalid PAYMENT_STORE value %q: want memory or graph", backend)
	}
	if cfg.Store.Backend == StoreGraph && cfg.Graph.URI == "" {
		return Config{}, fmt.Errorf("PAYMENT_STORE=graph requires GRAPH_URI")
	}

	return cfg, nil
}

// AllowedOrigins splits the CSV origin list.
func (c HTTPConfig) AllowedOrigins() []string {
	return splitCSV(c.AllowedOriginsCSV)
}

// Brokers splits the CSV broker list.
func (c EventsConfig) Brokers() []string {
	return splitCSV(c.BrokersCSV)
}

// Enabled reports whether any broker is configured.
func (c EventsConfig) Enabled() bool {
	return len(c.Brokers()) > 0
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
