package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"defidirect/native/direct"
)

type Config struct {
	RPCAddress        string  `toml:"RPCAddress"`
	DataDir           string  `toml:"DataDir"`
	AuditDatabasePath string  `toml:"AuditDatabasePath"`
	Environment       string  `toml:"Environment"`
	Owner             string  `toml:"Owner"`
	Genesis           Genesis `toml:"Genesis"`
	Telemetry         Telemetry
}

// Genesis seeds the module configuration applied on first start. It mirrors
// the initializer arguments so a fresh node comes up ready to take traffic.
type Genesis struct {
	FeeBps             uint32   `toml:"FeeBps"`
	TransactionManager string   `toml:"TransactionManager"`
	FeeReceiver        string   `toml:"FeeReceiver"`
	Vault              string   `toml:"Vault"`
	SupportedTokens    []string `toml:"SupportedTokens"`
}

type Telemetry struct {
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
	Insecure     bool   `toml:"Insecure"`
	Metrics      bool   `toml:"Metrics"`
	Traces       bool   `toml:"Traces"`
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
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./direct-data"
	}
	if strings.TrimSpace(cfg.AuditDatabasePath) == "" {
		cfg.AuditDatabasePath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if cfg.Genesis.SupportedTokens == nil {
		cfg.Genesis.SupportedTokens = []string{}
	}
}

// Validate checks address fields and the fee bound so misconfiguration fails
// at startup rather than on the first call.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	if strings.TrimSpace(cfg.Owner) == "" {
		return fmt.Errorf("Owner address is required")
	}
	if _, err := direct.ParseAddress(cfg.Owner); err != nil {
		return fmt.Errorf("Owner: %w", err)
	}
	if cfg.Genesis.FeeBps > direct.MaxFeeBps {
		return fmt.Errorf("Genesis.FeeBps %d exceeds maximum %d", cfg.Genesis.FeeBps, direct.MaxFeeBps)
	}
	for name, value := range map[string]string{
		"Genesis.TransactionManager": cfg.Genesis.TransactionManager,
		"Genesis.FeeReceiver":        cfg.Genesis.FeeReceiver,
		"Genesis.Vault":              cfg.Genesis.Vault,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := direct.ParseAddress(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, token := range cfg.Genesis.SupportedTokens {
		if _, err := direct.ParseAddress(token); err != nil {
			return fmt.Errorf("Genesis.SupportedTokens: %w", err)
		}
	}
	return nil
}

// HasGenesis reports whether the config carries a full initializer payload.
func (c *Config) HasGenesis() bool {
	return strings.TrimSpace(c.Genesis.TransactionManager) != "" &&
		strings.TrimSpace(c.Genesis.FeeReceiver) != "" &&
		strings.TrimSpace(c.Genesis.Vault) != ""
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:        ":8545",
		DataDir:           "./direct-data",
		AuditDatabasePath: filepath.Join("./direct-data", "audit.db"),
		Environment:       "local",
		Genesis: Genesis{
			FeeBps:          250,
			SupportedTokens: []string{},
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
