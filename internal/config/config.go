package config

import (
	"os"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	CatalogPath     string
	FailOnViolation bool
	Worker          WorkerConfig
	Watcher         WatcherConfig
	Engine          EngineConfig
	StateStore      StateStoreConfig
	API             APIConfig
	Observability   ObservabilityConfig
}

// WorkerConfig configures catalog evaluation runs
type WorkerConfig struct {
	Concurrency   int
	Interval      time.Duration // Zero evaluates once and exits
	RetryAttempts int
	RetryBackoff  time.Duration
	KeepRuns      int
}

// WatcherConfig configures catalog change detection in daemon mode
type WatcherConfig struct {
	PollInterval time.Duration // Zero disables the watcher
}

// EngineConfig configures the policy engine
type EngineConfig struct {
	EmptyPolicyMode string
}

// StateStoreConfig configures the state store
type StateStoreConfig struct {
	Type       string
	SQLitePath string
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled  bool
	Port     int
	APIKey   string
	ReadOnly bool
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// catalogSettings are optional defaults read from the catalog document.
// Environment variables take precedence.
type catalogSettings struct {
	Settings struct {
		EvaluationInterval string `yaml:"evaluationInterval"`
		EmptyPolicyMode    string `yaml:"emptyPolicyMode"`
		Concurrency        *int   `yaml:"concurrency"`
		KeepRuns           *int   `yaml:"keepRuns"`
	} `yaml:"settings"`
}

// Load loads configuration from environment variables and catalog settings
func Load() (*Config, error) {
	catalogPath := getEnv("VIGIL_CATALOG", "vigil.yml")

	var settings catalogSettings
	if data, err := os.ReadFile(catalogPath); err == nil {
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, errors.NewPermanentf("failed to parse settings in %s: %w", catalogPath, err)
		}
	}

	interval := time.Duration(0)
	intervalValue := getEnv("EVALUATION_INTERVAL", settings.Settings.EvaluationInterval)
	if intervalValue != "" && intervalValue != "0" {
		d, err := parseInterval(intervalValue)
		if err != nil {
			return nil, errors.NewPermanentf("invalid EVALUATION_INTERVAL: %w", err)
		}
		interval = d
	}

	concurrency := 4
	if settings.Settings.Concurrency != nil {
		concurrency = *settings.Settings.Concurrency
	}
	keepRuns := 50
	if settings.Settings.KeepRuns != nil {
		keepRuns = *settings.Settings.KeepRuns
	}

	cfg := &Config{
		CatalogPath:     catalogPath,
		FailOnViolation: getEnvBool("FAIL_ON_VIOLATION", true),
		Worker: WorkerConfig{
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", concurrency),
			Interval:      interval,
			RetryAttempts: getEnvInt("WORKER_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getEnvDuration("WORKER_RETRY_BACKOFF", 10*time.Second),
			KeepRuns:      getEnvInt("KEEP_RUNS", keepRuns),
		},
		Watcher: WatcherConfig{
			PollInterval: getEnvDuration("CATALOG_POLL_INTERVAL", 30*time.Second),
		},
		Engine: EngineConfig{
			EmptyPolicyMode: getEnv("EMPTY_POLICY_MODE", orDefault(settings.Settings.EmptyPolicyMode, "never")),
		},
		StateStore: StateStoreConfig{
			Type:       getEnv("STATE_STORE_TYPE", "sqlite"),
			SQLitePath: getEnv("SQLITE_PATH", "vigil.db"),
		},
		API: APIConfig{
			Enabled:  getEnvBool("API_ENABLED", true),
			Port:     getEnvInt("API_PORT", 8080),
			APIKey:   getEnv("API_KEY", ""),
			ReadOnly: getEnvBool("API_READ_ONLY", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return errors.NewPermanentf("catalog path is required")
	}

	if _, err := os.Stat(c.CatalogPath); os.IsNotExist(err) {
		return errors.NewPermanentf("catalog file not found: %s", c.CatalogPath)
	}

	if c.Worker.Concurrency <= 0 {
		return errors.NewPermanentf("worker concurrency must be positive: %d", c.Worker.Concurrency)
	}

	if c.Worker.KeepRuns < 0 {
		return errors.NewPermanentf("keep runs must not be negative: %d", c.Worker.KeepRuns)
	}

	if c.Watcher.PollInterval < 0 {
		return errors.NewPermanentf("catalog poll interval must not be negative: %s", c.Watcher.PollInterval)
	}

	if c.Engine.EmptyPolicyMode != "never" && c.Engine.EmptyPolicyMode != "vacuous" {
		return errors.NewPermanentf("invalid empty policy mode: %s (must be never or vacuous)", c.Engine.EmptyPolicyMode)
	}

	if c.StateStore.Type != "sqlite" && c.StateStore.Type != "none" {
		return errors.NewPermanentf("invalid state store type: %s (must be sqlite or none)", c.StateStore.Type)
	}

	if c.StateStore.Type == "sqlite" && c.StateStore.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required when using sqlite state store")
	}

	if c.API.Enabled && c.StateStore.Type == "none" {
		return errors.NewPermanentf("API requires a state store")
	}

	return nil
}

// Daemon reports whether evaluation repeats on an interval
func (c *Config) Daemon() bool {
	return c.Worker.Interval > 0
}
