package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/badgeminter/internal/infra/rpc"
)

// Load reads configuration from a YAML file, then applies environment
// overrides. A .env file in the working directory is loaded first if present.
// An empty path skips the file.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	d := Default()

	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Chain.BlockTime <= 0 {
		c.Chain.BlockTime = d.Chain.BlockTime
	}
	if c.Chain.RequestTimeout <= 0 {
		c.Chain.RequestTimeout = d.Chain.RequestTimeout
	}
	if c.Chain.RPCURL != "" {
		c.Chain.Providers = append(c.Chain.Providers, rpc.ProviderConfig{Name: "env", URL: c.Chain.RPCURL})
	}
	for i := range c.Chain.Providers {
		if c.Chain.Providers[i].Name == "" {
			c.Chain.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
	}

	c.Minter.Backend = strings.ToLower(strings.TrimSpace(c.Minter.Backend))
	if c.Minter.Backend == "" {
		c.Minter.Backend = d.Minter.Backend
	}
	if c.Minter.LeaseTTL <= 0 {
		c.Minter.LeaseTTL = d.Minter.LeaseTTL
	}

	c.Recovery.BlockTime = c.Chain.BlockTime
	if c.Completion.Season <= 0 {
		c.Completion.Season = d.Completion.Season
	}
}

// Validate reports every configuration problem at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Chain.ChainID <= 0 {
		errs = append(errs, errors.New("chain.chain_id must be positive"))
	}
	if !common.IsHexAddress(c.Chain.GameContract) {
		errs = append(errs, fmt.Errorf("chain.game_contract %q is not an address", c.Chain.GameContract))
	}
	if !common.IsHexAddress(c.Chain.BadgeContract) {
		errs = append(errs, fmt.Errorf("chain.badge_contract %q is not an address", c.Chain.BadgeContract))
	}
	if len(c.Chain.Providers) == 0 {
		errs = append(errs, errors.New("chain.providers needs at least one provider"))
	}
	for _, p := range c.Chain.Providers {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("chain.providers[%s] has no url", p.Name))
		}
	}

	switch c.Minter.Backend {
	case BackendDirect:
		if c.Minter.PrivateKey == "" {
			errs = append(errs, errors.New("minter.private_key is required for the direct backend"))
		}
	case BackendManaged:
		if c.Minter.Managed.URL == "" || c.Minter.Managed.AccessToken == "" {
			errs = append(errs, errors.New("minter.managed.url and access_token are required for the managed backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("minter.backend %q must be direct or managed", c.Minter.Backend))
	}

	switch c.Logging.Format {
	case "pretty", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be pretty, text or json", c.Logging.Format))
	}

	if c.Queue.Jitter < 0 || c.Queue.Jitter >= 1 {
		errs = append(errs, errors.New("queue.jitter must be in [0, 1)"))
	}
	if c.Queue.MaxDelay > 0 && c.Queue.BaseDelay > c.Queue.MaxDelay {
		errs = append(errs, errors.New("queue.base_delay must not exceed queue.max_delay"))
	}

	return errors.Join(errs...)
}
