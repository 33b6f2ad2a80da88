package config

import (
	"github.com/paymnee/paygate/internal/gate"
	redisclient "github.com/paymnee/paygate/internal/infra/redis"
	"github.com/paymnee/paygate/internal/infra/storage/postgres"
	"github.com/paymnee/paygate/internal/scan"

	"github.com/paymnee/paygate/internal/infra/chain/evm"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig          `yaml:"server"`
	Chain      evm.Config            `yaml:"chain"`
	Database   postgres.Config       `yaml:"database"`
	Redis      redisclient.Config    `yaml:"redis"`
	Logging    LoggingConfig         `yaml:"logging"`
	Scanner    scan.Config           `yaml:"scanner"`
	Reconciler gate.ReconcilerConfig `yaml:"reconciler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
