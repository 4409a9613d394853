package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment         string           `mapstructure:"environment"`
	RequireTrainedModel bool             `mapstructure:"require_trained_model"`
	Stage1              Stage1Config     `mapstructure:"stage1"`
	Stage2              Stage2Config     `mapstructure:"stage2"`
	Stage3              Stage3Config     `mapstructure:"stage3"`
	Monitoring          MonitoringConfig `mapstructure:"monitoring"`
	Database            DatabaseConfig   `mapstructure:"database"`
	Cache               CacheConfig      `mapstructure:"cache"`
	Registry            RegistryConfig   `mapstructure:"registry"`
	Logging             LoggingConfig    `mapstructure:"logging"`
}

// Stage1Config represents clinical triage configuration
type Stage1Config struct {
	MLEnabled         bool   `mapstructure:"ml_enabled"`
	ArtifactDir       string `mapstructure:"artifact_dir"`
	RegistryModelName string `mapstructure:"registry_model_name"`
}

// Quality gate policies for Stage 2.
const (
	QualityGateStrict = "strict"
	QualityGateWarn   = "warn"
	QualityGateOff    = "off"
)

// Stage2Config represents imaging classifier configuration
type Stage2Config struct {
	ModelArtifactPath       string `mapstructure:"model_artifact_path"`
	TemperatureArtifactPath string `mapstructure:"temperature_artifact_path"`
	RegistryModelName       string `mapstructure:"registry_model_name"`
	QualityGate             string `mapstructure:"quality_gate"`
}

// Stage3Config represents fusion and alerting configuration
type Stage3Config struct {
	Enabled               bool    `mapstructure:"enabled"`
	RequireModel          bool    `mapstructure:"require_model"`
	ArtifactDir           string  `mapstructure:"artifact_dir"`
	RegistryModelName     string  `mapstructure:"registry_model_name"`
	StiffnessProxyEnabled bool    `mapstructure:"stiffness_proxy_enabled"`
	AlertPPVTarget        float64 `mapstructure:"alert_ppv_target"`
	AlertRecallFloor      float64 `mapstructure:"alert_recall_floor"`
	TrendLimit            int     `mapstructure:"trend_limit"`
}

// AlertPolicy returns the alert operating point configured for Stage 3.
func (c Stage3Config) AlertPolicy() AlertPolicy {
	return AlertPolicy{PPVTarget: c.AlertPPVTarget, RecallFloor: c.AlertRecallFloor}
}

// MonitoringConfig represents scheduled batch configuration
type MonitoringConfig struct {
	Mode                 string        `mapstructure:"mode"`
	IntervalWeeks        int           `mapstructure:"interval_weeks"`
	MaxPatientsPerSecond float64       `mapstructure:"max_patients_per_second"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents Redis configuration. An empty URL disables
// distributed locking.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// RegistryConfig represents model registry configuration
type RegistryConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
