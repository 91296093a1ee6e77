package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/revops-cli/internal/crm"
	"github.com/sells-group/revops-cli/internal/forecast"
)

// Config holds the full application configuration.
type Config struct {
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Reference  ReferenceConfig  `yaml:"reference" mapstructure:"reference"`
	Forecast   ForecastConfig   `yaml:"forecast" mapstructure:"forecast"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds the CRM API endpoint, credentials and paging limits.
type CRMConfig struct {
	BaseURL         string       `yaml:"base_url" mapstructure:"base_url"`
	Token           string       `yaml:"token" mapstructure:"token"`
	PipelineID      int64        `yaml:"pipeline_id" mapstructure:"pipeline_id"`
	PageSize        int          `yaml:"page_size" mapstructure:"page_size"`
	PageDelayMs     int          `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	PageTimeoutSecs int          `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	RatePerSec      float64      `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int          `yaml:"burst" mapstructure:"burst"`
	Fields          crm.FieldIDs `yaml:"fields" mapstructure:"fields"`
}

// PageDelay returns the pause between consecutive pages.
func (c CRMConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMs) * time.Millisecond
}

// PageTimeout returns the bound on a single page request.
func (c CRMConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSecs) * time.Second
}

// ExtractConfig configures the extraction window and retry policy.
type ExtractConfig struct {
	DefaultDays       int  `yaml:"default_days" mapstructure:"default_days"`
	EventLookbackDays int  `yaml:"event_lookback_days" mapstructure:"event_lookback_days"`
	MaxAttempts       int  `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int  `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int  `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	SkipTasks         bool `yaml:"skip_tasks" mapstructure:"skip_tasks"`
}

// ReferenceConfig points at an optional heuristics override file.
type ReferenceConfig struct {
	HeuristicsPath string `yaml:"heuristics_path" mapstructure:"heuristics_path"`
}

// ForecastConfig holds the forecast heuristics. Zero values fall back to the
// built-in defaults.
type ForecastConfig struct {
	GrowthTiers         []forecast.GrowthTier `yaml:"growth_tiers" mapstructure:"growth_tiers"`
	DefaultMultiplier   float64               `yaml:"default_multiplier" mapstructure:"default_multiplier"`
	DefaultWinRate      float64               `yaml:"default_win_rate" mapstructure:"default_win_rate"`
	DefaultDealSize     float64               `yaml:"default_deal_size" mapstructure:"default_deal_size"`
	DefaultMonthlyLeads float64               `yaml:"default_monthly_leads" mapstructure:"default_monthly_leads"`
	TrendMonths         int                   `yaml:"trend_months" mapstructure:"trend_months"`
}

// EngineConfig merges the configured values over forecast.DefaultConfig.
func (c ForecastConfig) EngineConfig() forecast.Config {
	out := forecast.DefaultConfig()
	if len(c.GrowthTiers) > 0 {
		out.GrowthTiers = c.GrowthTiers
	}
	if c.DefaultMultiplier > 0 {
		out.DefaultMultiplier = c.DefaultMultiplier
	}
	if c.DefaultWinRate > 0 {
		out.DefaultWinRate = c.DefaultWinRate
	}
	if c.DefaultDealSize > 0 {
		out.DefaultDealSize = c.DefaultDealSize
	}
	if c.DefaultMonthlyLeads > 0 {
		out.DefaultMonthlyLeads = c.DefaultMonthlyLeads
	}
	if c.TrendMonths > 0 {
		out.TrendMonths = c.TrendMonths
	}
	return out
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-ledger alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REVOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.token", "")
	v.SetDefault("crm.pipeline_id", 0)
	v.SetDefault("crm.page_size", crm.DefaultPageSize)
	v.SetDefault("crm.page_delay_ms", 500)
	v.SetDefault("crm.page_timeout_secs", 30)
	v.SetDefault("crm.rate_per_sec", 5.0)
	v.SetDefault("crm.burst", 1)
	v.SetDefault("extract.default_days", 7)
	v.SetDefault("extract.event_lookback_days", 30)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.initial_backoff_ms", 500)
	v.SetDefault("extract.max_backoff_ms", 30000)
	v.SetDefault("extract.skip_tasks", false)
	v.SetDefault("reference.heuristics_path", "")
	v.SetDefault("forecast.default_multiplier", 1.15)
	v.SetDefault("forecast.default_win_rate", 20.0)
	v.SetDefault("forecast.default_deal_size", 3000.0)
	v.SetDefault("forecast.default_monthly_leads", 100.0)
	v.SetDefault("forecast.trend_months", 6)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.stale_after_hours", 26)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are "run",
// "store" (migrate, forecast, export, repair) and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required (sqlite file path)")
			}
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
		if c.Store.MaxConns < 0 {
			errs = append(errs, "store.max_conns must be >= 0")
		}
	}

	switch mode {
	case "run":
		storeChecks()
		if c.CRM.BaseURL == "" {
			errs = append(errs, "crm.base_url is required")
		}
		if c.CRM.Token == "" {
			errs = append(errs, "crm.token is required")
		}
		if c.CRM.PageSize < 1 || c.CRM.PageSize > crm.DefaultPageSize {
			errs = append(errs, "crm.page_size must be between 1 and 250")
		}
		if c.CRM.RatePerSec <= 0 {
			errs = append(errs, "crm.rate_per_sec must be > 0")
		}
		if c.Extract.DefaultDays < 1 {
			errs = append(errs, "extract.default_days must be >= 1")
		}
		if c.Extract.EventLookbackDays < 0 {
			errs = append(errs, "extract.event_lookback_days must be >= 0")
		}
	case "store":
		storeChecks()
	case "serve":
		storeChecks()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
