package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"VaultSentinel/internal/chain"
	"VaultSentinel/internal/config"
	"VaultSentinel/internal/liquidator"
	"VaultSentinel/internal/monitor"
	"VaultSentinel/internal/notifier"
	"VaultSentinel/internal/oracle"
	"VaultSentinel/internal/quoter"
	"VaultSentinel/internal/reconciler"
	"VaultSentinel/internal/recorder"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] VaultSentinel starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the chain
	retryDelay := time.Duration(cfg.Scanner.RetryDelaySec) * time.Second
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ID, cfg.Scanner.NumRetries, retryDelay)
	if err != nil {
		log.Fatalf("[FATAL] dial rpc: %v", err)
	}
	defer client.Close()
	log.Printf("[INFO] connected to %s (chain id %d)", cfg.Chain.Name, cfg.Chain.ID)

	contracts := &chain.Contracts{
		Client:     client,
		EVC:        common.HexToAddress(cfg.Contracts.EVC),
		Liquidator: common.HexToAddress(cfg.Contracts.Liquidator),
		Pyth:       common.HexToAddress(cfg.Contracts.Pyth),
	}

	// Init oracle resolver
	hermes := oracle.NewHermesClient(cfg.Oracle.HermesBaseURL)
	resolver := oracle.NewResolver(contracts, hermes,
		time.Duration(cfg.Oracle.FeedCacheTTLSec)*time.Second, cfg.Oracle.MaxResolveDepth)

	// Init swap quote searcher
	searcher := quoter.NewSearcher(cfg.Swap.APIBaseURL, cfg.Swap.APIKey, cfg.Chain.ID,
		time.Duration(cfg.Swap.RequestDelayMs)*time.Millisecond, cfg.Swap.MaxIterations, cfg.Swap.Delta)

	// Init Slack notifier
	var notif notifier.Notifier
	if cfg.Slack.WebhookURL != "" {
		notif = notifier.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Chain.Name, cfg.Chain.ID,
			cfg.Chain.ExplorerURL, cfg.Slack.DashboardURL)
		log.Println("[INFO] slack notifications enabled")
	} else {
		notif = notifier.NewNoopNotifier()
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init decision engine
	engine := liquidator.NewEngine(contracts, resolver, searcher, notif, liquidator.Config{
		LiquidatorContract: common.HexToAddress(cfg.Contracts.Liquidator),
		LiquidatorEOA:      common.HexToAddress(cfg.Liquidator.EOA),
		ProfitReceiver:     common.HexToAddress(cfg.Contracts.ProfitReceiver),
		Swapper:            common.HexToAddress(cfg.Contracts.Swapper),
		WETH:               common.HexToAddress(cfg.Contracts.WETH),
		SafetyMarginPct:    cfg.Swap.SafetyMarginPct,
		SlippagePct:        cfg.Swap.SlippagePct,
		SubtractGasCost:    cfg.Profit.SubtractGasCost,
	})

	// Init executor when liquidations are armed
	var exec monitor.Submitter
	if cfg.Monitor.ExecuteLiquidations {
		var submitClient liquidator.TxBackend = client
		if cfg.Chain.ExecutionRPCURL != "" {
			ec, err := chain.Dial(ctx, cfg.Chain.ExecutionRPCURL, cfg.Chain.ID, cfg.Scanner.NumRetries, retryDelay)
			if err != nil {
				log.Fatalf("[FATAL] dial execution rpc: %v", err)
			}
			defer ec.Close()
			submitClient = ec
			log.Println("[INFO] using separate execution endpoint for submissions")
		}
		x, err := liquidator.NewExecutor(client, submitClient, contracts,
			cfg.Liquidator.PrivateKey, common.HexToAddress(cfg.Contracts.Liquidator), cfg.Chain.ID)
		if err != nil {
			log.Fatalf("[FATAL] init executor: %v", err)
		}
		exec = x
		if cfg.Profit.SubtractGasCost {
			engine.SetGasPricer(x)
		}
		log.Printf("[INFO] liquidation execution armed, sender %s", x.From().Hex())
	} else {
		log.Println("[INFO] liquidation execution disabled, monitoring only")
	}

	// Init account monitor
	mon := monitor.New(contracts, resolver, engine, exec, notif, rec, monitor.Options{
		NumWorkers:            cfg.Monitor.NumWorkers,
		Policy:                cfg.SchedulePolicy(),
		StateFile:             cfg.Monitor.StateFile,
		Notify:                cfg.Monitor.Notify,
		ExecuteLiquidations:   cfg.Monitor.ExecuteLiquidations,
		SmallBorrowThreshold:  cfg.SchedulePolicy().SmallBorrowThreshold,
		ReportHealthThreshold: cfg.Monitor.ReportHealthThreshold,
		ReportBorrowThreshold: cfg.ReportBorrowThreshold(),
	})

	// Warm start from the last snapshot when one exists
	restored, err := mon.LoadState(ctx)
	if err != nil {
		log.Printf("[WARN] restore state: %v", err)
	}
	checkpoint := cfg.Chain.DeploymentBlock
	if restored && mon.LastSavedBlock() > checkpoint {
		checkpoint = mon.LastSavedBlock()
	}

	// Init event scanner
	scanner := reconciler.New(client, mon, reconciler.Config{
		EVC:           common.HexToAddress(cfg.Contracts.EVC),
		BatchSize:     cfg.Scanner.BatchSize,
		ScanInterval:  time.Duration(cfg.Scanner.ScanIntervalSec) * time.Second,
		BatchInterval: time.Duration(cfg.Scanner.BatchIntervalSec) * time.Second,
		Retries:       cfg.Scanner.NumRetries,
		RetryDelay:    retryDelay,
	})
	scanner.SetCheckpoint(checkpoint)

	// Periodic snapshot and low-health report
	c := cron.New()
	if cfg.Monitor.SaveIntervalSec > 0 {
		spec := fmt.Sprintf("@every %ds", cfg.Monitor.SaveIntervalSec)
		if _, err := c.AddFunc(spec, func() {
			if err := mon.SaveState(); err != nil {
				log.Printf("[ERROR] periodic save: %v", err)
			}
		}); err != nil {
			log.Fatalf("[FATAL] register save task: %v", err)
		}
	}
	if cfg.Monitor.ReportIntervalSec > 0 {
		spec := fmt.Sprintf("@every %ds", cfg.Monitor.ReportIntervalSec)
		if _, err := c.AddFunc(spec, mon.LowHealthReport); err != nil {
			log.Fatalf("[FATAL] register report task: %v", err)
		}
	}
	c.Start()
	defer c.Stop()

	// Run: monitor workers, historical catch-up, then tip following
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()
	go func() {
		if err := scanner.CatchUp(ctx); err != nil {
			log.Printf("[ERROR] catch-up scan: %v", err)
			notif.Error("historical catch-up", err)
		}
		scanner.FollowTip(ctx)
	}()

	log.Println("[INFO] VaultSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	<-done
	if err := mon.SaveState(); err != nil {
		log.Printf("[ERROR] final save: %v", err)
	}
	log.Println("[INFO] VaultSentinel stopped")
}
