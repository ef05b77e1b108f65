// Package config loads the client configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/chain-monopoly/contract"
)

// Config is the client configuration. Variable names follow the deployment
// environment of the game contract.
type Config struct {
	RPCURL            string        `env:"RPC_URL"            envDefault:"http://127.0.0.1:8545"`
	ContractAddress   string        `env:"CONTRACT_ADDRESS"`
	PrivateKey        string        `env:"PRIVATE_KEY"`
	Account           string        `env:"ACCOUNT_ADDRESS"`
	ConfirmTimeout    time.Duration `env:"CONFIRM_TIMEOUT"    envDefault:"2m"`
	ConfirmSignatures bool          `env:"CONFIRM_SIGNATURES" envDefault:"true"`
	ABIPath           string        `env:"ABI_PATH"`
	JournalPath       string        `env:"JOURNAL_PATH"       envDefault:"monopoly-rolls.json"`
	LogLevel          string        `env:"LOG_LEVEL"          envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", contract.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting. The private key is only checked
// for presence; its format is checked by the wallet. Without a key the client
// runs read-only for ACCOUNT_ADDRESS.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RPCURL) == "" {
		errs = append(errs, errors.New("RPC_URL is empty"))
	}
	switch addr := strings.TrimSpace(c.ContractAddress); {
	case addr == "":
		errs = append(errs, errors.New("CONTRACT_ADDRESS is not set"))
	case !common.IsHexAddress(addr):
		errs = append(errs, fmt.Errorf("CONTRACT_ADDRESS %q is not an address", addr))
	}
	if c.PrivateKey == "" {
		switch acct := strings.TrimSpace(c.Account); {
		case acct == "":
			errs = append(errs, errors.New("neither PRIVATE_KEY nor ACCOUNT_ADDRESS is set"))
		case !common.IsHexAddress(acct):
			errs = append(errs, fmt.Errorf("ACCOUNT_ADDRESS %q is not an address", acct))
		}
	}
	if c.ConfirmTimeout < 0 {
		errs = append(errs, fmt.Errorf("CONFIRM_TIMEOUT %s is negative", c.ConfirmTimeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", contract.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// ReadOnly reports whether no signing key is configured.
func (c Config) ReadOnly() bool {
	return c.PrivateKey == ""
}

// InterfaceDescriptor returns the contract ABI read from ABI_PATH, or the
// embedded one when ABI_PATH is not set.
func (c Config) InterfaceDescriptor() (string, error) {
	if c.ABIPath == "" {
		return contract.DefaultABI, nil
	}
	data, err := os.ReadFile(c.ABIPath)
	if err != nil {
		return "", fmt.Errorf("%w: read ABI_PATH: %w", contract.ErrConfiguration, err)
	}
	return string(data), nil
}

// Level parses LOG_LEVEL.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
