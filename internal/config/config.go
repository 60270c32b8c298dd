// Package config loads and validates the gateway's configuration: the
// HTTP/WS listen port, storage path, logging, and the set of chains to
// stream from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chainrelay/mempool-gateway/internal/constants"
	"gopkg.in/yaml.v3"
)

// ChainConfig describes one upstream chain to subscribe to.
type ChainConfig struct {
	// Name is a human-readable label, used in logs and chainStatus events.
	Name string `yaml:"name"`

	// ID is the numeric EVM chain id.
	ID uint64 `yaml:"id"`

	// WSURL is the upstream WebSocket endpoint. If set it takes
	// precedence over Provider/APIKey-based URL resolution.
	WSURL string `yaml:"ws_url,omitempty"`

	// RPCURL is the upstream HTTP JSON-RPC endpoint used by the
	// hash-only and headers-then-fetch dialects. If empty it is derived
	// from WSURL by substituting wss:// with https://.
	RPCURL string `yaml:"rpc_url,omitempty"`
}

// Config holds all configuration for the gateway process.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	DBPath    string `yaml:"db_path"`

	// Providers lists provider names in failover order, used to build a
	// chain's endpoint when that chain has no explicit WSURL.
	Providers []string `yaml:"providers,omitempty"`

	// ProviderAPIKeys maps a lowercase provider name to its credential.
	// Populated only from environment variables, never from file.
	ProviderAPIKeys map[string]string `yaml:"-"`

	Chains []ChainConfig `yaml:"chains"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	cfg := &Config{ProviderAPIKeys: make(map[string]string)}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in zero-valued fields with defaults.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.DBPath == "" {
		c.DBPath = "./data/mempool-gateway"
	}
	if c.ProviderAPIKeys == nil {
		c.ProviderAPIKeys = make(map[string]string)
	}
}

// LoadFromFile parses a YAML config file into c.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays environment variables onto c, following the table:
// PORT, CHAIN_{i}_NAME/_ID/_WS_URL/_RPC_URL, PROVIDER or PROVIDERS, and
// <PROVIDER>_API_KEY. Chain loading stops at the first index whose NAME
// or ID is missing; when CHAIN_1_NAME and CHAIN_1_ID are both set, the
// env-derived chain list replaces whatever chains came from the file.
func (c *Config) LoadFromEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = val
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.DBPath = path
	}

	if chains, err := loadChainsFromEnv(); err != nil {
		return err
	} else if len(chains) > 0 {
		c.Chains = chains
	}

	if providers := os.Getenv("PROVIDERS"); providers != "" {
		c.Providers = splitAndTrim(providers)
	} else if provider := os.Getenv("PROVIDER"); provider != "" {
		c.Providers = splitAndTrim(provider)
	}

	if c.ProviderAPIKeys == nil {
		c.ProviderAPIKeys = make(map[string]string)
	}
	for _, name := range constants.KnownProviders {
		envVar := strings.ToUpper(name) + "_API_KEY"
		if key := os.Getenv(envVar); key != "" {
			c.ProviderAPIKeys[name] = key
		}
	}

	return nil
}

// loadChainsFromEnv reads CHAIN_{i}_* variables for i = 1, 2, ... until
// the first index missing either NAME or ID.
func loadChainsFromEnv() ([]ChainConfig, error) {
	var chains []ChainConfig
	for i := 1; ; i++ {
		name := os.Getenv(fmt.Sprintf("CHAIN_%d_NAME", i))
		idStr := os.Getenv(fmt.Sprintf("CHAIN_%d_ID", i))
		if name == "" || idStr == "" {
			break
		}

		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAIN_%d_ID %q: %w", i, idStr, err)
		}

		chains = append(chains, ChainConfig{
			Name:   name,
			ID:     id,
			WSURL:  os.Getenv(fmt.Sprintf("CHAIN_%d_WS_URL", i)),
			RPCURL: os.Getenv(fmt.Sprintf("CHAIN_%d_RPC_URL", i)),
		})
	}
	return chains, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// Validate checks the ConfigInvalid conditions from the error handling
// design: no chains, an invalid chain, an unknown provider, or a missing
// credential are all fatal before any Session starts.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.LogFormat)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	knownProviders := make(map[string]bool, len(constants.KnownProviders))
	for _, p := range constants.KnownProviders {
		knownProviders[p] = true
	}

	seenIDs := make(map[uint64]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.Name == "" {
			return fmt.Errorf("chain config missing name")
		}
		if chain.ID == 0 {
			return fmt.Errorf("chain %q: id must be positive", chain.Name)
		}
		if seenIDs[chain.ID] {
			return fmt.Errorf("chain %q: duplicate chain id %d", chain.Name, chain.ID)
		}
		seenIDs[chain.ID] = true

		if chain.WSURL != "" {
			if !strings.HasPrefix(chain.WSURL, "wss://") {
				return fmt.Errorf("chain %q: ws_url must use wss://, got %q", chain.Name, chain.WSURL)
			}
			continue
		}

		// No explicit URL: this chain must resolve through a configured
		// provider with a credential on file.
		if len(c.Providers) == 0 {
			return fmt.Errorf("chain %q: no ws_url and no provider configured", chain.Name)
		}
		resolvable := false
		for _, provider := range c.Providers {
			if !knownProviders[provider] {
				return fmt.Errorf("chain %q: unknown provider %q", chain.Name, provider)
			}
			if provider == constants.ProviderCustom {
				continue
			}
			if c.ProviderAPIKeys[provider] != "" {
				resolvable = true
			}
		}
		if !resolvable {
			return fmt.Errorf("chain %q: no provider in %v has a credential set", chain.Name, c.Providers)
		}
	}

	return nil
}

// Load builds a Config from an optional YAML file, then overlays
// environment variables, applies defaults, and validates the result.
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
