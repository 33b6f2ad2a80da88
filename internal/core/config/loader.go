package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/paymnee/paygate/internal/gate"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/scan"
)

// Load reads configuration from a YAML file. Environment variables in
// the file body (${VAR} form) are expanded before parsing, so secrets
// like the database URL stay out of the file itself.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Chain.RPCURL == "" {
		return nil, fmt.Errorf("chain.rpc_url is required")
	}
	if cfg.Chain.TokenAddress == "" {
		return nil, fmt.Errorf("chain.token_address is required")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Chain.CallTimeout == 0 {
		cfg.Chain.CallTimeout = 15 * time.Second
	}
	if cfg.Scanner.ChunkSize == 0 {
		cfg.Scanner.ChunkSize = scan.DefaultConfig().ChunkSize
	}
	if cfg.Scanner.Retry == (chain.RetryConfig{}) {
		cfg.Scanner.Retry = chain.DefaultRetryConfig()
	}
	if cfg.Reconciler.Interval == 0 {
		cfg.Reconciler.Interval = gate.DefaultReconcilerConfig().Interval
	}
}
