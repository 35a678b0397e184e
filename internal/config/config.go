package config

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"VaultSentinel/internal/model"
)

// Config holds all application configuration for one monitored chain.
type Config struct {
	Chain struct {
		Name            string `yaml:"name"`
		ID              int64  `yaml:"id"`
		RPCEnv          string `yaml:"rpc_env"`
		RPCURL          string `yaml:"-"`
		ExecutionRPCURL string `yaml:"execution_rpc_url"`
		DeploymentBlock uint64 `yaml:"deployment_block"`
		ExplorerURL     string `yaml:"explorer_url"`
	} `yaml:"chain"`

	Contracts struct {
		EVC            string `yaml:"evc"`
		Liquidator     string `yaml:"liquidator"`
		Pyth           string `yaml:"pyth"`
		WETH           string `yaml:"weth"`
		Swapper        string `yaml:"swapper"`
		ProfitReceiver string `yaml:"profit_receiver"`
	} `yaml:"contracts"`

	Monitor struct {
		NumWorkers               int     `yaml:"num_workers"`
		HSLowerBound             float64 `yaml:"hs_lower_bound"`
		HSUpperBound             float64 `yaml:"hs_upper_bound"`
		MinUpdateIntervalSec     int     `yaml:"min_update_interval"`
		MaxUpdateIntervalSec     int     `yaml:"max_update_interval"`
		SmallBorrowThresholdUSD  float64 `yaml:"small_borrow_threshold_usd"`
		SmallBorrowIntervalSec   int     `yaml:"small_borrow_interval"`
		SaveIntervalSec          int     `yaml:"save_interval"`
		StateFile                string  `yaml:"state_file"`
		Notify                   bool    `yaml:"notify"`
		ExecuteLiquidations      bool    `yaml:"execute_liquidations"`
		ReportIntervalSec        int     `yaml:"low_health_report_interval"`
		ReportHealthThreshold    float64 `yaml:"report_health_threshold"`
		ReportBorrowThresholdUSD float64 `yaml:"report_borrow_threshold_usd"`
	} `yaml:"monitor"`

	Scanner struct {
		BatchSize        uint64 `yaml:"batch_size"`
		ScanIntervalSec  int    `yaml:"scan_interval"`
		BatchIntervalSec int    `yaml:"batch_interval"`
		NumRetries       int    `yaml:"num_retries"`
		RetryDelaySec    int    `yaml:"retry_delay"`
	} `yaml:"scanner"`

	Oracle struct {
		HermesBaseURL   string `yaml:"hermes_base_url"`
		FeedCacheTTLSec int    `yaml:"feed_cache_ttl"`
		MaxResolveDepth int    `yaml:"max_resolve_depth"`
	} `yaml:"oracle"`

	Swap struct {
		APIBaseURL      string  `yaml:"api_base_url"`
		APIKey          string  `yaml:"-"`
		RequestDelayMs  int     `yaml:"request_delay_ms"`
		MaxIterations   int     `yaml:"max_iterations"`
		Delta           float64 `yaml:"delta"`
		SafetyMarginPct float64 `yaml:"safety_margin_pct"`
		SlippagePct     float64 `yaml:"slippage_pct"`
	} `yaml:"swap"`

	Profit struct {
		SubtractGasCost bool `yaml:"subtract_gas_cost"`
	} `yaml:"profit"`

	Slack struct {
		WebhookURL   string `yaml:"-"`
		DashboardURL string `yaml:"dashboard_url"`
	} `yaml:"slack"`

	Liquidator struct {
		EOA        string `yaml:"-"`
		PrivateKey string `yaml:"-"`
	} `yaml:"-"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides for the RPC endpoint and secrets. Unknown YAML keys are a load
// error, not a runtime surprise.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if cfg.Chain.RPCEnv != "" {
		cfg.Chain.RPCURL = os.Getenv(cfg.Chain.RPCEnv)
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("EXECUTION_RPC_URL"); v != "" {
		cfg.Chain.ExecutionRPCURL = v
	}
	if v := os.Getenv("API_KEY_1INCH"); v != "" {
		cfg.Swap.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
	}
	if v := os.Getenv("LIQUIDATOR_EOA"); v != "" {
		cfg.Liquidator.EOA = v
	}
	if v := os.Getenv("LIQUIDATOR_PRIVATE_KEY"); v != "" {
		cfg.Liquidator.PrivateKey = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	// Defaults
	if cfg.Monitor.NumWorkers == 0 {
		cfg.Monitor.NumWorkers = 32
	}
	if cfg.Monitor.HSLowerBound == 0 {
		cfg.Monitor.HSLowerBound = 1.02
	}
	if cfg.Monitor.HSUpperBound == 0 {
		cfg.Monitor.HSUpperBound = 1.5
	}
	if cfg.Monitor.MinUpdateIntervalSec == 0 {
		cfg.Monitor.MinUpdateIntervalSec = 60
	}
	if cfg.Monitor.MaxUpdateIntervalSec == 0 {
		cfg.Monitor.MaxUpdateIntervalSec = 4 * 60 * 60
	}
	if cfg.Monitor.SmallBorrowIntervalSec == 0 {
		cfg.Monitor.SmallBorrowIntervalSec = 15 * 60
	}
	if cfg.Monitor.SaveIntervalSec == 0 {
		cfg.Monitor.SaveIntervalSec = 30 * 60
	}
	if cfg.Monitor.StateFile == "" {
		cfg.Monitor.StateFile = fmt.Sprintf("data/%s_state.json", cfg.Chain.Name)
	}
	if cfg.Monitor.ReportIntervalSec == 0 {
		cfg.Monitor.ReportIntervalSec = 60 * 60
	}
	if cfg.Monitor.ReportHealthThreshold == 0 {
		cfg.Monitor.ReportHealthThreshold = 1.05
	}
	if cfg.Scanner.BatchSize == 0 {
		cfg.Scanner.BatchSize = 1000
	}
	if cfg.Scanner.ScanIntervalSec == 0 {
		cfg.Scanner.ScanIntervalSec = 90
	}
	if cfg.Scanner.BatchIntervalSec == 0 {
		cfg.Scanner.BatchIntervalSec = 5
	}
	if cfg.Scanner.NumRetries == 0 {
		cfg.Scanner.NumRetries = 3
	}
	if cfg.Scanner.RetryDelaySec == 0 {
		cfg.Scanner.RetryDelaySec = 10
	}
	if cfg.Oracle.HermesBaseURL == "" {
		cfg.Oracle.HermesBaseURL = "https://hermes.pyth.network"
	}
	if cfg.Oracle.FeedCacheTTLSec == 0 {
		cfg.Oracle.FeedCacheTTLSec = 10 * 60
	}
	if cfg.Oracle.MaxResolveDepth == 0 {
		cfg.Oracle.MaxResolveDepth = 8
	}
	if cfg.Swap.APIBaseURL == "" {
		cfg.Swap.APIBaseURL = "https://api.1inch.dev"
	}
	if cfg.Swap.RequestDelayMs == 0 {
		cfg.Swap.RequestDelayMs = 1100
	}
	if cfg.Swap.MaxIterations == 0 {
		cfg.Swap.MaxIterations = 20
	}
	if cfg.Swap.Delta == 0 {
		cfg.Swap.Delta = 0.01
	}
	if cfg.Swap.SafetyMarginPct == 0 {
		cfg.Swap.SafetyMarginPct = 2
	}
	if cfg.Swap.SlippagePct == 0 {
		cfg.Swap.SlippagePct = 2
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Chain.Name == "" {
		return fmt.Errorf("chain.name is required")
	}
	if c.Chain.ID == 0 {
		return fmt.Errorf("chain.id is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("no RPC URL: set %s or RPC_URL", c.Chain.RPCEnv)
	}
	if c.Contracts.EVC == "" {
		return fmt.Errorf("contracts.evc is required")
	}
	if c.Contracts.Liquidator == "" {
		return fmt.Errorf("contracts.liquidator is required")
	}
	if c.Monitor.HSLowerBound >= c.Monitor.HSUpperBound {
		return fmt.Errorf("monitor.hs_lower_bound must be below hs_upper_bound")
	}
	if c.Monitor.ExecuteLiquidations && c.Liquidator.PrivateKey == "" {
		return fmt.Errorf("LIQUIDATOR_PRIVATE_KEY is required when execute_liquidations is on")
	}
	// Simulations pass the operator address to the liquidation check, so an
	// unset EOA would skew quoted repay and seize amounts. Derive it from the
	// key rather than requiring both.
	if c.Liquidator.PrivateKey != "" && c.Liquidator.EOA == "" {
		key, err := crypto.HexToECDSA(c.Liquidator.PrivateKey)
		if err != nil {
			return fmt.Errorf("LIQUIDATOR_PRIVATE_KEY: %w", err)
		}
		c.Liquidator.EOA = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	return nil
}

// SchedulePolicy builds the monitor's scheduling policy from config values.
func (c *Config) SchedulePolicy() model.SchedulePolicy {
	return model.SchedulePolicy{
		HealthLowerBound:     c.Monitor.HSLowerBound,
		HealthUpperBound:     c.Monitor.HSUpperBound,
		MinInterval:          time.Duration(c.Monitor.MinUpdateIntervalSec) * time.Second,
		MaxInterval:          time.Duration(c.Monitor.MaxUpdateIntervalSec) * time.Second,
		SmallBorrowThreshold: usdToWei(c.Monitor.SmallBorrowThresholdUSD),
		SmallBorrowInterval:  time.Duration(c.Monitor.SmallBorrowIntervalSec) * time.Second,
	}
}

// ReportBorrowThreshold returns the low-health report borrow floor in wei.
func (c *Config) ReportBorrowThreshold() *big.Int {
	return usdToWei(c.Monitor.ReportBorrowThresholdUSD)
}

func usdToWei(usd float64) *big.Int {
	if usd <= 0 {
		return new(big.Int)
	}
	f := new(big.Float).Mul(big.NewFloat(usd), big.NewFloat(1e18))
	wei, _ := f.Int(nil)
	return wei
}
