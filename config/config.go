package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"bestoffer/native/settlement"
)

// TokenConfig describes one token accepted for escrow deposits. Tokens are
// registered into the state manager at startup.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

type Config struct {
	ListenAddress string        `toml:"ListenAddress"`
	DataDir       string        `toml:"DataDir"`
	Env           string        `toml:"Env"`
	LogLevel      string        `toml:"LogLevel"`
	AdminAddress  string        `toml:"AdminAddress"`
	FeeBps        uint16        `toml:"FeeBps"`
	Tokens        []TokenConfig `toml:"Tokens"`
}

// Admin parses the configured platform admin address. The second result
// reports whether an admin is configured; when it is, the service initialises
// the settlement config and treasury records at boot using FeeBps.
func (c *Config) Admin() ([20]byte, bool, error) {
	var admin [20]byte
	raw := strings.TrimPrefix(strings.TrimSpace(c.AdminAddress), "0x")
	if raw == "" {
		return admin, false, nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return admin, false, fmt.Errorf("config: AdminAddress: %w", err)
	}
	if len(decoded) != len(admin) {
		return admin, false, fmt.Errorf("config: AdminAddress must be %d bytes, got %d", len(admin), len(decoded))
	}
	copy(admin[:], decoded)
	return admin, true, nil
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./bestoffer-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = settlement.DefaultFeeBps
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []TokenConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the settlement engine would refuse at
// runtime anyway, so operators learn about them at boot.
func (c *Config) Validate() error {
	if c.FeeBps > settlement.MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds %d", c.FeeBps, settlement.MaxFeeBps)
	}
	if _, _, err := c.Admin(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, token := range c.Tokens {
		symbol, err := settlement.NormalizeToken(token.Symbol)
		if err != nil {
			return fmt.Errorf("config: token %q: %w", token.Symbol, err)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: token %s declared twice", symbol)
		}
		seen[symbol] = struct{}{}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./bestoffer-data",
		Env:           "local",
		LogLevel:      "info",
		FeeBps:        settlement.DefaultFeeBps,
		Tokens: []TokenConfig{
			{Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
