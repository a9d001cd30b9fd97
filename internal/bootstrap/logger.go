package bootstrap

import (
	"fmt"
	"strings"

	"hkwarrant/internal/core"
	"hkwarrant/pkg/logging"
)

// InitLogger builds the process-wide core.ILogger from cfg.System.LogLevel,
// tagged with the configured monitor codes (spec §1a ambient stack).
func InitLogger(cfg *Config) (core.ILogger, error) {
	base, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	codes := make([]string, 0, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		codes = append(codes, m.Code)
	}

	return base.WithField("monitors", strings.Join(codes, ",")), nil
}
