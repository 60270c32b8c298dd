package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected default log format 'json', got %q", cfg.LogFormat)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DBPath == "" {
		t.Error("expected non-empty default db path")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
port: 9090
log_level: debug
log_format: console
db_path: /var/lib/mempool-gateway
chains:
  - name: ethereum
    id: 1
    ws_url: wss://example.invalid/eth
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if len(cfg.Chains) != 1 || cfg.Chains[0].Name != "ethereum" {
		t.Fatalf("unexpected chains: %+v", cfg.Chains)
	}
}

func TestLoadFromEnvChains(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("CHAIN_1_NAME", "ethereum")
	t.Setenv("CHAIN_1_ID", "1")
	t.Setenv("CHAIN_1_WS_URL", "wss://example.invalid/eth")
	t.Setenv("CHAIN_2_NAME", "polygon")
	t.Setenv("CHAIN_2_ID", "137")
	// CHAIN_3_* intentionally unset: loading must stop here.

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Port)
	}
	if len(cfg.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d: %+v", len(cfg.Chains), cfg.Chains)
	}
	if cfg.Chains[0].WSURL != "wss://example.invalid/eth" {
		t.Errorf("unexpected ws url for chain 1: %q", cfg.Chains[0].WSURL)
	}
	if cfg.Chains[1].WSURL != "" {
		t.Errorf("expected chain 2 to have no explicit ws url, got %q", cfg.Chains[1].WSURL)
	}
}

func TestLoadFromEnvStopsAtFirstGap(t *testing.T) {
	t.Setenv("CHAIN_1_NAME", "ethereum")
	t.Setenv("CHAIN_1_ID", "1")
	t.Setenv("CHAIN_3_NAME", "polygon")
	t.Setenv("CHAIN_3_ID", "137")

	chains, err := loadChainsFromEnv()
	if err != nil {
		t.Fatalf("loadChainsFromEnv() error = %v", err)
	}
	if len(chains) != 1 {
		t.Fatalf("expected loading to stop at the gap, got %d chains", len(chains))
	}
}

func TestLoadFromEnvProviderAPIKeys(t *testing.T) {
	t.Setenv("PROVIDERS", "alchemy, infura")
	t.Setenv("ALCHEMY_API_KEY", "alchemy-secret")
	t.Setenv("INFURA_API_KEY", "infura-secret")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.Providers) != 2 || cfg.Providers[0] != "alchemy" || cfg.Providers[1] != "infura" {
		t.Fatalf("unexpected providers: %+v", cfg.Providers)
	}
	if cfg.ProviderAPIKeys["alchemy"] != "alchemy-secret" {
		t.Errorf("missing alchemy credential: %+v", cfg.ProviderAPIKeys)
	}
	if cfg.ProviderAPIKeys["infura"] != "infura-secret" {
		t.Errorf("missing infura credential: %+v", cfg.ProviderAPIKeys)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Config
		wantErr bool
	}{
		{
			name: "valid explicit ws url",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Chains = []ChainConfig{{Name: "ethereum", ID: 1, WSURL: "wss://example.invalid/eth"}}
				return cfg
			},
		},
		{
			name: "no chains configured",
			build: func() *Config {
				return NewConfig()
			},
			wantErr: true,
		},
		{
			name: "chain missing name",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Chains = []ChainConfig{{ID: 1, WSURL: "wss://example.invalid/eth"}}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "chain with zero id",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Chains = []ChainConfig{{Name: "ethereum", WSURL: "wss://example.invalid/eth"}}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "ws url missing scheme",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Chains = []ChainConfig{{Name: "ethereum", ID: 1, WSURL: "example.invalid/eth"}}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "duplicate chain id",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Chains = []ChainConfig{
					{Name: "ethereum", ID: 1, WSURL: "wss://example.invalid/eth"},
					{Name: "ethereum-2", ID: 1, WSURL: "wss://example.invalid/eth2"},
				}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "provider chain with no provider configured",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Chains = []ChainConfig{{Name: "ethereum", ID: 1}}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "unknown provider",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Providers = []string{"bogus"}
				cfg.Chains = []ChainConfig{{Name: "ethereum", ID: 1}}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "provider with no credential",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Providers = []string{"alchemy"}
				cfg.Chains = []ChainConfig{{Name: "ethereum", ID: 1}}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "provider with credential resolves",
			build: func() *Config {
				cfg := NewConfig()
				cfg.Providers = []string{"alchemy"}
				cfg.ProviderAPIKeys["alchemy"] = "secret"
				cfg.Chains = []ChainConfig{{Name: "ethereum", ID: 1}}
				return cfg
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
