package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "app_key: ${TEST_APP_KEY}",
			envVars: map[string]string{
				"TEST_APP_KEY": "test_key_123",
			},
			expected: "app_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "app_key: ${APP_KEY}\napp_secret: ${APP_SECRET}",
			envVars: map[string]string{
				"APP_KEY":    "key_value",
				"APP_SECRET": "secret_value",
			},
			expected: "app_key: key_value\napp_secret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "app_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "app_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

const sampleConfig = `
app:
  engine_type: "simple"
  runtime_profile: "test"

broker:
  app_key: "${TEST_APP_KEY}"
  app_secret: "${TEST_APP_SECRET}"
  access_token: "${TEST_ACCESS_TOKEN}"
  region: "hk"

monitors:
  - code: "HSI"
    target_notional: "5000"
    lot_size: 100
    risk_max_unrealized_loss_per_symbol: "500"
    risk_liquidation_distance_pct_bull: "1"
    risk_liquidation_distance_pct_bear: "-1"
    cooldown_mode: "minutes"
    cooldown_minutes: 30
    auto_search:
      enabled: true
      min_distance_to_recall_pct: "5"
      min_turnover_per_minute: "10000"
      expiry_floor_months: 3
      post_open_delay_minutes: 5
      switch_distance_range_min: "2"
      switch_distance_range_max: "15"
      max_search_failures_per_day: 3
      should_rebuy: true

system:
  log_level: "INFO"
  cancel_on_exit: true

risk_control:
  enabled: true
  doomsday_close_time: "16:00"
  doomsday_half_day_close_time: "12:00"
  doomsday_cancel_before_minutes: 15
  doomsday_liquidate_before_minutes: 5

timing:
  main_loop_interval_ms: 1000
  buy_timeout_seconds: 30
  sell_timeout_seconds: 30
  price_update_interval_ms: 5000
  startup_gate_poll_interval_seconds: 5

concurrency:
  monitor_pool_size: 8
  monitor_pool_buffer: 100
  doomsday_pool_size: 4
`

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(sampleConfig)
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_APP_KEY", "key_from_env")
	os.Setenv("TEST_APP_SECRET", "secret_from_env")
	os.Setenv("TEST_ACCESS_TOKEN", "token_from_env")
	defer os.Unsetenv("TEST_APP_KEY")
	defer os.Unsetenv("TEST_APP_SECRET")
	defer os.Unsetenv("TEST_ACCESS_TOKEN")

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	assert.Equal(t, Secret("key_from_env"), cfg.Broker.AppKey)
	assert.Equal(t, Secret("secret_from_env"), cfg.Broker.AppSecret)
	assert.Equal(t, Secret("token_from_env"), cfg.Broker.AccessToken)
	assert.Len(t, cfg.Monitors, 1)

	core, err := cfg.Monitors[0].ToCore()
	require.NoError(t, err)
	assert.Equal(t, "HSI", core.Code)
	assert.Equal(t, int64(100), core.LotSize)
	assert.True(t, core.AutoSearch.Enabled)
}

func TestValidateRejectsMissingBrokerCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker.AppKey = ""
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateMonitorCodes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitors = append(cfg.Monitors, cfg.Monitors[0])
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	output := cfg.String()

	assert.Contains(t, output, "REDACTED")
	assert.NotContains(t, output, "test_app_key")
	assert.NotContains(t, output, "test_app_secret")
}
