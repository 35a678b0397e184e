package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"VaultSentinel/internal/chain"
	"VaultSentinel/internal/liquidator"
	"VaultSentinel/internal/model"
	"VaultSentinel/internal/notifier"
	"VaultSentinel/internal/recorder"
)

// ChainReader is the slice of contract reads the monitor needs.
type ChainReader interface {
	VaultAsset(ctx context.Context, vault common.Address) (common.Address, error)
	VaultOracle(ctx context.Context, vault common.Address) (common.Address, error)
	VaultUnitOfAccount(ctx context.Context, vault common.Address) (common.Address, error)
	VaultLTVList(ctx context.Context, vault common.Address) ([]common.Address, error)
	BalanceOf(ctx context.Context, vault, account common.Address) (*big.Int, error)
	AccountLiquidity(ctx context.Context, vault, account common.Address) (*big.Int, *big.Int, error)
	AccountOwner(ctx context.Context, account common.Address) (common.Address, error)
	SimulateAccountStatus(ctx context.Context, updateData []byte, updateFee *big.Int, vault, account common.Address) (*big.Int, *big.Int, error)
}

// FeedSource resolves pull-oracle dependencies for a vault.
type FeedSource interface {
	FeedIDs(ctx context.Context, v *model.Vault) ([]string, error)
	UpdateData(ctx context.Context, feedIDs []string) ([]byte, error)
	UpdateFee(ctx context.Context, updateData []byte) (*big.Int, error)
}

// Decider finds the best liquidation plan for an unhealthy account.
type Decider interface {
	Simulate(ctx context.Context, vault *model.Vault, violator common.Address) (*liquidator.Plan, bool, error)
}

// Submitter lands a liquidation plan on chain.
type Submitter interface {
	Execute(ctx context.Context, plan *liquidator.Plan) (*types.Receipt, []chain.LiquidationEvent)
}

// Options holds the monitor's tuning knobs.
type Options struct {
	NumWorkers          int
	Policy              model.SchedulePolicy
	StateFile           string
	Notify              bool
	ExecuteLiquidations bool

	// Accounts borrowing below this value only post an unhealthy
	// notification once per cooldown window.
	SmallBorrowThreshold *big.Int
	NotifyCooldown       time.Duration

	ReportHealthThreshold float64
	ReportBorrowThreshold *big.Int
}

// Monitor owns the account and vault registries and the adaptive check
// schedule. Checks run on a fixed worker pool; the scheduler loop dispatches
// due accounts and sleeps until the next deadline or an external wake.
type Monitor struct {
	reader ChainReader
	feeds  FeedSource
	engine Decider
	exec   Submitter
	notify notifier.Notifier
	rec    recorder.Recorder
	opts   Options

	mu             sync.Mutex
	accounts       map[common.Address]*model.Account
	vaults         map[common.Address]*model.Vault
	queue          *checkQueue
	lastSavedBlock uint64
	lastNotified   map[common.Address]time.Time

	wake chan struct{}
	jobs chan common.Address
	wg   sync.WaitGroup
}

func New(reader ChainReader, feeds FeedSource, engine Decider, exec Submitter, notify notifier.Notifier, rec recorder.Recorder, opts Options) *Monitor {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 32
	}
	if opts.NotifyCooldown == 0 {
		opts.NotifyCooldown = time.Hour
	}
	return &Monitor{
		reader:       reader,
		feeds:        feeds,
		engine:       engine,
		exec:         exec,
		notify:       notify,
		rec:          rec,
		opts:         opts,
		accounts:     make(map[common.Address]*model.Account),
		vaults:       make(map[common.Address]*model.Vault),
		queue:        newCheckQueue(),
		lastNotified: make(map[common.Address]time.Time),
		wake:         make(chan struct{}, 1),
		jobs:         make(chan common.Address, 256),
	}
}

// Vault returns the registry entry for a vault address, reading its static
// configuration on first sight.
func (m *Monitor) Vault(ctx context.Context, addr common.Address) (*model.Vault, error) {
	m.mu.Lock()
	v, ok := m.vaults[addr]
	m.mu.Unlock()
	if ok {
		return v, nil
	}

	asset, err := m.reader.VaultAsset(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("vault %s asset: %w", addr.Hex(), err)
	}
	oracle, err := m.reader.VaultOracle(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("vault %s oracle: %w", addr.Hex(), err)
	}
	unit, err := m.reader.VaultUnitOfAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("vault %s unit of account: %w", addr.Hex(), err)
	}
	ltvs, err := m.reader.VaultLTVList(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("vault %s ltv list: %w", addr.Hex(), err)
	}

	v = &model.Vault{Address: addr, Asset: asset, Oracle: oracle, UnitOfAccount: unit, LTVList: ltvs}
	m.mu.Lock()
	if existing, ok := m.vaults[addr]; ok {
		v = existing
	} else {
		m.vaults[addr] = v
		log.Printf("[INFO] monitor: registered vault %s (asset %s)", addr.Hex(), asset.Hex())
	}
	m.mu.Unlock()
	return v, nil
}

// RegisterOrUpdate folds one observed status check into the registry. A new
// account or a controller change schedules an immediate check; a known pair
// is left on its existing schedule.
func (m *Monitor) RegisterOrUpdate(ctx context.Context, address, controller common.Address) error {
	m.mu.Lock()
	acct, known := m.accounts[address]
	sameController := known && acct.Controller == controller
	m.mu.Unlock()
	if sameController {
		return nil
	}

	if known {
		log.Printf("[INFO] monitor: account %s switched controller to %s", address.Hex(), controller.Hex())
	}
	owner, err := m.reader.AccountOwner(ctx, address)
	if err != nil {
		return fmt.Errorf("owner of %s: %w", address.Hex(), err)
	}
	fresh := model.NewAccount(address, owner, controller)

	m.mu.Lock()
	m.accounts[address] = fresh
	m.queue.schedule(address, time.Now().Unix())
	m.mu.Unlock()
	m.poke()
	return nil
}

// Account returns the registered account for an address, if any.
func (m *Monitor) Account(addr common.Address) (*model.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[addr]
	return a, ok
}

// Run starts the worker pool and the scheduler loop, blocking until ctx is
// cancelled. In-flight checks are drained before it returns.
func (m *Monitor) Run(ctx context.Context) {
	for i := 0; i < m.opts.NumWorkers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for addr := range m.jobs {
				m.runCheck(ctx, addr)
			}
		}()
	}
	log.Printf("[INFO] monitor: started %d check workers", m.opts.NumWorkers)

	for {
		m.mu.Lock()
		due := m.queue.popDue(time.Now().Unix())
		wait := 10 * time.Second
		if at, ok := m.queue.nextAt(); ok {
			if d := time.Until(time.Unix(at, 0)); d < wait {
				wait = d
			}
		}
		m.mu.Unlock()

		for _, addr := range due {
			select {
			case m.jobs <- addr:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}

		if wait < 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-m.wake:
		case <-time.After(wait):
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(m.jobs)
	m.wg.Wait()
	log.Printf("[INFO] monitor: stopped, all checks drained")
}

// runCheck looks the address up again at dispatch time: the registry entry
// may have been replaced by a controller change while queued. A panic in one
// account's check is contained here so it cannot take down the worker pool.
func (m *Monitor) runCheck(ctx context.Context, addr common.Address) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] monitor: panic checking %s: %v", addr.Hex(), r)
			m.notify.Error(fmt.Sprintf("checking account %s", addr.Hex()), fmt.Errorf("panic: %v", r))
		}
	}()

	m.mu.Lock()
	acct, ok := m.accounts[addr]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.CheckAccount(ctx, acct); err != nil {
		log.Printf("[ERROR] monitor: checking %s: %v", addr.Hex(), err)
		// Retry on the minimum interval rather than dropping the account.
		retry := time.Now().Add(m.opts.Policy.MinInterval).Unix()
		acct.SetNextCheck(retry)
		m.scheduleAccount(addr, retry)
	}
}

// CheckAccount performs one full health check: read the position, recompute
// the health score, reschedule, and hand unhealthy accounts to the decision
// engine.
func (m *Monitor) CheckAccount(ctx context.Context, acct *model.Account) error {
	vault, err := m.Vault(ctx, acct.Controller)
	if err != nil {
		return err
	}

	balance, err := m.reader.BalanceOf(ctx, vault.Address, acct.Address)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	collateral, liability, err := m.accountStatus(ctx, vault, acct.Address)
	if err != nil {
		return fmt.Errorf("account status: %w", err)
	}

	hs := model.ComputeHealthScore(collateral, liability)
	next := m.opts.Policy.NextCheck(hs, liability, time.Now(), acct.NextCheck())
	acct.ApplyCheck(balance, liability, hs, next)

	if hs < 1 {
		m.handleUnhealthy(ctx, vault, acct, hs, liability)
		// Liquidation may have changed the position; recompute the schedule
		// from the post-attempt state.
		collateral, liability, statusErr := m.accountStatus(ctx, vault, acct.Address)
		if statusErr == nil {
			hs = model.ComputeHealthScore(collateral, liability)
			next = m.opts.Policy.NextCheck(hs, liability, time.Now(), model.NoBorrowSentinel)
			acct.ApplyCheck(nil, liability, hs, next)
		}
	}

	if next == model.NoBorrowSentinel {
		log.Printf("[INFO] monitor: account %s has no open borrow, descheduled", acct.Address.Hex())
		return nil
	}
	m.scheduleAccount(acct.Address, next)
	return nil
}

// accountStatus reads collateral and liability value, routing through the
// pull-oracle simulation when the vault has pull feeds.
func (m *Monitor) accountStatus(ctx context.Context, vault *model.Vault, account common.Address) (*big.Int, *big.Int, error) {
	feedIDs, err := m.feeds.FeedIDs(ctx, vault)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve feeds: %w", err)
	}
	if len(feedIDs) == 0 {
		return m.reader.AccountLiquidity(ctx, vault.Address, account)
	}
	updateData, err := m.feeds.UpdateData(ctx, feedIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("update data: %w", err)
	}
	fee, err := m.feeds.UpdateFee(ctx, updateData)
	if err != nil {
		return nil, nil, fmt.Errorf("update fee: %w", err)
	}
	return m.reader.SimulateAccountStatus(ctx, updateData, fee, vault.Address, account)
}

func (m *Monitor) handleUnhealthy(ctx context.Context, vault *model.Vault, acct *model.Account, hs float64, liability *big.Int) {
	log.Printf("[WARN] monitor: account %s unhealthy, health score %.4f, borrowed %s",
		acct.Address.Hex(), hs, liability)
	if err := m.rec.RecordUnhealthy(&recorder.UnhealthyEvent{
		Account:       acct.Address.Hex(),
		Vault:         vault.Address.Hex(),
		HealthScore:   hs,
		ValueBorrowed: liability.String(),
	}); err != nil {
		log.Printf("[WARN] monitor: recording unhealthy event: %v", err)
	}
	if m.opts.Notify && m.shouldNotifyUnhealthy(acct.Address, liability) {
		m.notify.UnhealthyAccount(acct.Address, acct.Owner, vault.Address, hs, liability)
	}

	plan, profitable, err := m.engine.Simulate(ctx, vault, acct.Address)
	if err != nil {
		log.Printf("[ERROR] monitor: simulating liquidation for %s: %v", acct.Address.Hex(), err)
		return
	}
	if !profitable {
		log.Printf("[INFO] monitor: no profitable liquidation for %s", acct.Address.Hex())
		if err := m.rec.RecordAttempt(&recorder.AttemptEvent{
			Account:    acct.Address.Hex(),
			Vault:      vault.Address.Hex(),
			Profitable: false,
			Profit:     "0",
		}); err != nil {
			log.Printf("[WARN] monitor: recording attempt: %v", err)
		}
		return
	}

	if err := m.rec.RecordAttempt(&recorder.AttemptEvent{
		Account:         acct.Address.Hex(),
		Vault:           vault.Address.Hex(),
		CollateralVault: plan.Params.CollateralVault.Hex(),
		Profitable:      true,
		Profit:          plan.Profit.String(),
	}); err != nil {
		log.Printf("[WARN] monitor: recording attempt: %v", err)
	}
	data := &notifier.LiquidationData{
		Account:         acct.Address,
		Owner:           acct.Owner,
		Vault:           vault.Address,
		CollateralVault: plan.Params.CollateralVault,
		CollateralAsset: plan.Params.CollateralAsset,
		MaxRepay:        plan.Params.MaxRepay,
		SeizedShares:    plan.Params.SeizedCollateralShares,
		Leftover:        plan.Leftover,
		Profit:          plan.Profit,
	}
	if m.opts.Notify {
		m.notify.Opportunity(data)
	}

	if !m.opts.ExecuteLiquidations || m.exec == nil {
		log.Printf("[INFO] monitor: execution disabled, skipping liquidation of %s", acct.Address.Hex())
		return
	}
	receipt, events := m.exec.Execute(ctx, plan)
	if receipt == nil {
		m.notify.Error(fmt.Sprintf("executing liquidation of %s", acct.Address.Hex()),
			fmt.Errorf("transaction did not land"))
		return
	}
	data.TxHash = receipt.TxHash.Hex()
	for _, evt := range events {
		if err := m.rec.RecordResult(&recorder.ResultEvent{
			Account:         evt.Violator.Hex(),
			Vault:           evt.Vault.Hex(),
			CollateralVault: evt.CollateralVault.Hex(),
			TxHash:          receipt.TxHash.Hex(),
			RepayAmount:     evt.RepayAmount.String(),
			SeizedShares:    evt.SeizedCollateralShares.String(),
		}); err != nil {
			log.Printf("[WARN] monitor: recording result: %v", err)
		}
	}
	if m.opts.Notify {
		m.notify.Executed(data)
	}
}

// shouldNotifyUnhealthy rate limits unhealthy notifications for small
// positions so dust accounts cannot flood the channel.
func (m *Monitor) shouldNotifyUnhealthy(addr common.Address, liability *big.Int) bool {
	if m.opts.SmallBorrowThreshold == nil || liability.Cmp(m.opts.SmallBorrowThreshold) >= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastNotified[addr]; ok && time.Since(last) < m.opts.NotifyCooldown {
		return false
	}
	m.lastNotified[addr] = time.Now()
	return true
}

func (m *Monitor) scheduleAccount(addr common.Address, at int64) {
	m.mu.Lock()
	m.queue.schedule(addr, at)
	m.mu.Unlock()
	m.poke()
}

func (m *Monitor) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// SetLastSavedBlock records the scanner checkpoint carried in snapshots.
func (m *Monitor) SetLastSavedBlock(n uint64) {
	m.mu.Lock()
	m.lastSavedBlock = n
	m.mu.Unlock()
}

// LastSavedBlock returns the checkpoint restored from the last snapshot.
func (m *Monitor) LastSavedBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSavedBlock
}

// SaveState writes a warm-start snapshot atomically (temp file + rename).
func (m *Monitor) SaveState() error {
	if m.opts.StateFile == "" {
		return nil
	}

	m.mu.Lock()
	state := model.State{
		Accounts:       make(map[string]model.AccountRecord, len(m.accounts)),
		Vaults:         make([]string, 0, len(m.vaults)),
		LastSavedBlock: m.lastSavedBlock,
	}
	for addr, acct := range m.accounts {
		state.Accounts[addr.Hex()] = acct.Record()
	}
	for addr := range m.vaults {
		state.Vaults = append(state.Vaults, addr.Hex())
	}
	m.mu.Unlock()
	sort.Strings(state.Vaults)

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := m.opts.StateFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(m.opts.StateFile), 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, m.opts.StateFile); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	log.Printf("[INFO] monitor: saved %d accounts, %d vaults, block %d",
		len(state.Accounts), len(state.Vaults), state.LastSavedBlock)
	return nil
}

// LoadState restores a snapshot. The snapshot is a cache: every restored
// account is scheduled for an immediate check so health scores come from the
// chain, never from the file. Returns false when no snapshot exists.
func (m *Monitor) LoadState(ctx context.Context) (bool, error) {
	if m.opts.StateFile == "" {
		return false, nil
	}
	data, err := os.ReadFile(m.opts.StateFile)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read state: %w", err)
	}
	var state model.State
	if err := json.Unmarshal(data, &state); err != nil {
		return false, fmt.Errorf("parse state: %w", err)
	}

	for _, raw := range state.Vaults {
		if _, err := m.Vault(ctx, common.HexToAddress(raw)); err != nil {
			log.Printf("[WARN] monitor: restoring vault %s: %v", raw, err)
		}
	}

	now := time.Now().Unix()
	restored := 0
	for _, rec := range state.Accounts {
		addr := common.HexToAddress(rec.Address)
		controller := common.HexToAddress(rec.Controller)
		owner, err := m.reader.AccountOwner(ctx, addr)
		if err != nil {
			log.Printf("[WARN] monitor: restoring %s: owner lookup: %v", rec.Address, err)
			continue
		}
		acct := model.NewAccount(addr, owner, controller)
		m.mu.Lock()
		m.accounts[addr] = acct
		m.queue.schedule(addr, now)
		m.mu.Unlock()
		restored++
	}
	m.mu.Lock()
	m.lastSavedBlock = state.LastSavedBlock
	m.mu.Unlock()
	m.poke()

	log.Printf("[INFO] monitor: restored %d accounts from %s (saved block %d)",
		restored, m.opts.StateFile, state.LastSavedBlock)
	return true, nil
}

// AccountsByHealth returns every monitored account sorted worst-health
// first, plus the count and total borrowed value across the registry.
func (m *Monitor) AccountsByHealth() ([]notifier.ReportEntry, int, *big.Int) {
	m.mu.Lock()
	accounts := make([]*model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	m.mu.Unlock()

	entries := make([]notifier.ReportEntry, 0, len(accounts))
	total := new(big.Int)
	for _, a := range accounts {
		borrowed := a.ValueBorrowed()
		total.Add(total, borrowed)
		entries = append(entries, notifier.ReportEntry{
			Address:       a.Address,
			Owner:         a.Owner,
			HealthScore:   a.HealthScore(),
			ValueBorrowed: borrowed,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].HealthScore < entries[j].HealthScore })
	return entries, len(accounts), total
}

// LowHealthReport posts the periodic digest of accounts at or below the
// report threshold, worst first.
func (m *Monitor) LowHealthReport() {
	all, count, total := m.AccountsByHealth()

	var entries []notifier.ReportEntry
	for _, e := range all {
		if e.HealthScore > m.opts.ReportHealthThreshold {
			break
		}
		if m.opts.ReportBorrowThreshold != nil && e.ValueBorrowed.Cmp(m.opts.ReportBorrowThreshold) < 0 {
			continue
		}
		entries = append(entries, e)
	}

	m.notify.HealthReport(entries, count, total)
}
