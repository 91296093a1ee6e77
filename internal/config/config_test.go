package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/forecast"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 250, cfg.CRM.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.CRM.PageDelay())
	assert.Equal(t, 30*time.Second, cfg.CRM.PageTimeout())
	assert.InDelta(t, 5.0, cfg.CRM.RatePerSec, 0.001)
	assert.Equal(t, 7, cfg.Extract.DefaultDays)
	assert.Equal(t, 30, cfg.Extract.EventLookbackDays)
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
	assert.Equal(t, 26, cfg.Monitoring.StaleAfterHours)
	assert.InDelta(t, 1.15, cfg.Forecast.DefaultMultiplier, 0.001)
	assert.Equal(t, 6, cfg.Forecast.TrendMonths)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
crm:
  base_url: https://acme.example.com/api/v4
  pipeline_id: 100
  fields:
    gclid: 555
store:
  driver: sqlite
  database_url: revops.db
log:
  level: debug
  format: console
forecast:
  growth_tiers:
    - max_days_remaining: 5
      multiplier: 1.01
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://acme.example.com/api/v4", cfg.CRM.BaseURL)
	assert.Equal(t, int64(100), cfg.CRM.PipelineID)
	assert.Equal(t, int64(555), cfg.CRM.Fields.GCLID)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []forecast.GrowthTier{{MaxDaysRemaining: 5, Multiplier: 1.01}}, cfg.Forecast.GrowthTiers)
	// Defaults still apply for unset values
	assert.Equal(t, 250, cfg.CRM.PageSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("REVOPS_STORE_DRIVER", "postgres")
	t.Setenv("REVOPS_LOG_LEVEL", "warn")
	t.Setenv("REVOPS_CRM_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "secret", cfg.CRM.Token)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("crm: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestEngineConfig(t *testing.T) {
	def := forecast.DefaultConfig()
	assert.Equal(t, def, ForecastConfig{}.EngineConfig())

	got := ForecastConfig{DefaultWinRate: 35, TrendMonths: 3}.EngineConfig()
	assert.InDelta(t, 35.0, got.DefaultWinRate, 0.001)
	assert.Equal(t, 3, got.TrendMonths)
	assert.Equal(t, def.GrowthTiers, got.GrowthTiers)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.CRM.BaseURL = "https://acme.example.com/api/v4"
	cfg.CRM.Token = "tok"
	cfg.CRM.PageSize = 250
	cfg.CRM.RatePerSec = 5
	cfg.Extract.DefaultDays = 7
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/revops"
	cfg.Server.Port = 8080
	cfg.Monitoring.FailureRateThreshold = 0.5
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.CRM.BaseURL = ""
	cfg.CRM.Token = ""
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "crm.base_url is required")
	assert.Contains(t, err.Error(), "crm.token is required")
}

func TestValidateRun_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.CRM.PageSize = 251
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm.page_size must be between 1 and 250")

	cfg.CRM.PageSize = 250
	cfg.Extract.DefaultDays = 0
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract.default_days")
}

func TestValidateStore_DoesNotNeedCRM(t *testing.T) {
	cfg := validDefaults()
	cfg.CRM = CRMConfig{}
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateFailureRateThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
