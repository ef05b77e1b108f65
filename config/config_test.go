package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luca-patrignani/chain-monopoly/contract"
)

const (
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testAccount  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	t.Setenv("ACCOUNT_ADDRESS", testAccount)
	t.Setenv("PRIVATE_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("expected default rpc url, got %q", cfg.RPCURL)
	}
	if cfg.ConfirmTimeout != 2*time.Minute {
		t.Fatalf("expected default confirm timeout 2m, got %s", cfg.ConfirmTimeout)
	}
	if !cfg.ConfirmSignatures {
		t.Fatal("expected signatures to be confirmed by default")
	}
	if !cfg.ReadOnly() {
		t.Fatal("expected read-only without a private key")
	}
	if cfg.Account != testAccount {
		t.Fatalf("expected account %s, got %s", testAccount, cfg.Account)
	}
	if level, _ := cfg.Level(); level != slog.LevelInfo {
		t.Fatalf("expected info level, got %s", level)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	t.Setenv("RPC_URL", "ws://node:8546")
	t.Setenv("CONFIRM_TIMEOUT", "45s")
	t.Setenv("CONFIRM_SIGNATURES", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PRIVATE_KEY", "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "ws://node:8546" || cfg.ConfirmTimeout != 45*time.Second || cfg.ConfirmSignatures {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ReadOnly() {
		t.Fatal("expected a signing configuration")
	}
	if level, _ := cfg.Level(); level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", level)
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	t.Setenv("ACCOUNT_ADDRESS", testAccount)
	t.Setenv("CONFIRM_TIMEOUT", "soon")

	_, err := Load()
	if !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{RPCURL: "http://127.0.0.1:8545", ContractAddress: testContract, Account: testAccount, LogLevel: "info"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *Config){
		"missing contract":   func(c *Config) { c.ContractAddress = "" },
		"malformed contract": func(c *Config) { c.ContractAddress = "0x1234" },
		"empty rpc url":      func(c *Config) { c.RPCURL = " " },
		"negative timeout":   func(c *Config) { c.ConfirmTimeout = -time.Second },
		"unknown log level":  func(c *Config) { c.LogLevel = "chatty" },
		"no identity":        func(c *Config) { c.Account = "" },
		"malformed account":  func(c *Config) { c.Account = "alice" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, contract.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestInterfaceDescriptor(t *testing.T) {
	var c Config
	abi, err := c.InterfaceDescriptor()
	if err != nil {
		t.Fatal(err)
	}
	if abi != contract.DefaultABI {
		t.Fatal("expected the embedded ABI")
	}

	path := filepath.Join(t.TempDir(), "Monopoly.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o600); err != nil {
		t.Fatal(err)
	}
	c.ABIPath = path
	if abi, err = c.InterfaceDescriptor(); err != nil || abi != "[]" {
		t.Fatalf("expected file contents, got %q, %v", abi, err)
	}

	c.ABIPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := c.InterfaceDescriptor(); !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
