package bootstrap

import (
	"fmt"

	"hkwarrant/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation.
func checkPreFlight(cfg *Config) error {
	if cfg.App.EngineType == "dbos" {
		if cfg.App.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when engine_type is 'dbos'")
		}
	}

	if len(cfg.Monitors) == 0 {
		return fmt.Errorf("at least one monitor must be configured")
	}

	for _, m := range cfg.Monitors {
		if _, err := m.ToCore(); err != nil {
			return fmt.Errorf("monitor %s: %w", m.Code, err)
		}
	}

	return nil
}
