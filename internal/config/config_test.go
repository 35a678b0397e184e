package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
chain:
  name: mainnet
  id: 1
  deployment_block: 100
contracts:
  evc: "0x0C9a3dd6b8F28529d72d7f9cE918D493519EE383"
  liquidator: "0xA8A46596a7B17542d2cf6993FC61Ea0CBb4474c1"
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.NumWorkers != 32 {
		t.Errorf("num workers default = %d", cfg.Monitor.NumWorkers)
	}
	if cfg.Monitor.HSLowerBound != 1.02 || cfg.Monitor.HSUpperBound != 1.5 {
		t.Errorf("health bounds = %f..%f", cfg.Monitor.HSLowerBound, cfg.Monitor.HSUpperBound)
	}
	if cfg.Scanner.BatchSize != 1000 {
		t.Errorf("batch size default = %d", cfg.Scanner.BatchSize)
	}
	if cfg.Monitor.StateFile != "data/mainnet_state.json" {
		t.Errorf("state file default = %s", cfg.Monitor.StateFile)
	}
	if cfg.Swap.Delta != 0.01 {
		t.Errorf("delta default = %f", cfg.Swap.Delta)
	}
}

func TestLoad_UnknownKeyIsAnError(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+"\nmispelled_section:\n  x: 1\n"))
	if err == nil {
		t.Fatal("expected unknown top-level key to fail the load")
	}
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.test")
	t.Setenv("LIQUIDATOR_PRIVATE_KEY", "aabb")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "https://rpc.example.test" {
		t.Errorf("rpc url = %s", cfg.Chain.RPCURL)
	}
	if cfg.Liquidator.PrivateKey != "aabb" {
		t.Errorf("private key not read from environment")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.test")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Contracts.EVC = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing EVC address to fail validation")
	}
}

func TestValidate_ExecutionRequiresKey(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.test")
	cfg, err := Load(writeConfig(t, minimalYAML+"\nmonitor:\n  execute_liquidations: true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected armed execution without a key to fail validation")
	}
}

func TestValidate_DerivesEOAFromKey(t *testing.T) {
	// Well-known throwaway dev key; its address is fixed.
	t.Setenv("RPC_URL", "https://rpc.example.test")
	t.Setenv("LIQUIDATOR_PRIVATE_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	cfg, err := Load(writeConfig(t, minimalYAML+"\nmonitor:\n  execute_liquidations: true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Liquidator.EOA != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("derived EOA = %s", cfg.Liquidator.EOA)
	}
}

func TestValidate_ExplicitEOAWins(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.test")
	t.Setenv("LIQUIDATOR_PRIVATE_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("LIQUIDATOR_EOA", "0x00000000000000000000000000000000DeaDBeef")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Liquidator.EOA != "0x00000000000000000000000000000000DeaDBeef" {
		t.Errorf("explicit EOA overwritten: %s", cfg.Liquidator.EOA)
	}
}

func TestValidate_BadKeyFails(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example.test")
	t.Setenv("LIQUIDATOR_PRIVATE_KEY", "not-a-key")
	cfg, err := Load(writeConfig(t, minimalYAML+"\nmonitor:\n  execute_liquidations: true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an unparseable key to fail validation")
	}
}

func TestSchedulePolicy_FromConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
monitor:
  small_borrow_threshold_usd: 250
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p := cfg.SchedulePolicy()
	if p.SmallBorrowThreshold == nil || p.SmallBorrowThreshold.Sign() <= 0 {
		t.Error("small borrow threshold not converted to wei")
	}
	if p.MinInterval.Seconds() != 60 {
		t.Errorf("min interval = %v", p.MinInterval)
	}
}
