package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/hepatica-risk-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerWithViper(viper.New())
}

// NewManagerWithViper creates a configuration manager on top of an existing
// viper instance. Tests use it to inject values without touching the environment.
func NewManagerWithViper(v *viper.Viper) (*Manager, error) {
	m := &Manager{v: v}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	m.v.SetConfigName("config")
	m.v.SetConfigType("yaml")
	m.v.AddConfigPath(".")
	m.v.AddConfigPath("./config")
	m.v.AddConfigPath("/etc/hepatica/")

	m.v.SetEnvPrefix("HEPATICA")
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and environment variables apply without one.
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := m.v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	m.v.SetDefault("environment", "development")
	m.v.SetDefault("require_trained_model", false)

	// Stage 1 defaults
	m.v.SetDefault("stage1.ml_enabled", false)
	m.v.SetDefault("stage1.artifact_dir", "./artifacts/stage1")
	m.v.SetDefault("stage1.registry_model_name", "clinical-stage1-gbdt")

	// Stage 2 defaults
	m.v.SetDefault("stage2.model_artifact_path", "./artifacts/stage2/fibrosis_model.json")
	m.v.SetDefault("stage2.temperature_artifact_path", "./artifacts/stage2/temperature_scaling.json")
	m.v.SetDefault("stage2.registry_model_name", "fibrosis-efficientnet-b3")
	m.v.SetDefault("stage2.quality_gate", domain.QualityGateWarn)

	// Stage 3 defaults
	m.v.SetDefault("stage3.enabled", true)
	m.v.SetDefault("stage3.require_model", true)
	m.v.SetDefault("stage3.artifact_dir", "./artifacts/stage3")
	m.v.SetDefault("stage3.registry_model_name", "multimodal-stage3-risk")
	m.v.SetDefault("stage3.stiffness_proxy_enabled", true)
	m.v.SetDefault("stage3.alert_ppv_target", 0.90)
	m.v.SetDefault("stage3.alert_recall_floor", 0.70)
	m.v.SetDefault("stage3.trend_limit", 12)

	// Monitoring defaults
	m.v.SetDefault("monitoring.mode", "scheduled")
	m.v.SetDefault("monitoring.interval_weeks", 4)
	m.v.SetDefault("monitoring.max_patients_per_second", 0)
	m.v.SetDefault("monitoring.lock_ttl", "10m")

	// Database defaults
	m.v.SetDefault("database.driver", "sqlite")
	m.v.SetDefault("database.sqlite_path", "./data/hepatica.db")
	m.v.SetDefault("database.url", "")
	m.v.SetDefault("database.max_open_conns", 25)
	m.v.SetDefault("database.max_idle_conns", 5)
	m.v.SetDefault("database.conn_max_lifetime", "5m")

	// Cache defaults
	m.v.SetDefault("cache.redis_url", "")
	m.v.SetDefault("cache.max_retries", 3)
	m.v.SetDefault("cache.pool_size", 10)
	m.v.SetDefault("cache.pool_timeout", "4s")

	m.v.SetDefault("registry.seed_file", "")

	// Logging defaults
	m.v.SetDefault("logging.level", "info")
	m.v.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Stage3.AlertPPVTarget <= 0 || config.Stage3.AlertPPVTarget > 1 {
		return fmt.Errorf("invalid stage3 alert ppv target: %v", config.Stage3.AlertPPVTarget)
	}
	if config.Stage3.AlertRecallFloor < 0 || config.Stage3.AlertRecallFloor > 1 {
		return fmt.Errorf("invalid stage3 alert recall floor: %v", config.Stage3.AlertRecallFloor)
	}
	if config.Stage3.TrendLimit <= 0 {
		return fmt.Errorf("stage3 trend limit must be positive: %d", config.Stage3.TrendLimit)
	}

	switch config.Stage2.QualityGate {
	case domain.QualityGateStrict, domain.QualityGateWarn, domain.QualityGateOff:
	default:
		return fmt.Errorf("invalid stage2 quality gate: %s", config.Stage2.QualityGate)
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if config.Database.URL == "" {
			return fmt.Errorf("database url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", config.Database.Driver)
	}

	if config.Monitoring.MaxPatientsPerSecond < 0 {
		return fmt.Errorf("monitoring rate must not be negative: %v", config.Monitoring.MaxPatientsPerSecond)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// StrictMode reports whether learned artifacts are mandatory: the environment
// is not development and require_trained_model is set.
func (m *Manager) StrictMode() bool {
	return StrictMode(m.config)
}

// IsDevelopmentEnvironment reports whether env names a local development environment.
func IsDevelopmentEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "development", "dev", "local":
		return true
	default:
		return false
	}
}

// StrictMode derives the strict artifact policy from a loaded config.
func StrictMode(cfg *domain.Config) bool {
	return !IsDevelopmentEnvironment(cfg.Environment) && cfg.RequireTrainedModel
}

// Stage3StrictMode narrows StrictMode for the fusion model: with
// stage3.require_model off, Stage 3 falls back to the heuristic composite
// even when Stage 1 and Stage 2 models are mandatory.
func Stage3StrictMode(cfg *domain.Config) bool {
	return StrictMode(cfg) && cfg.Stage3.RequireModel
}
