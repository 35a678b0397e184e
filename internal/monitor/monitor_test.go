package monitor

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"VaultSentinel/internal/liquidator"
	"VaultSentinel/internal/model"
	"VaultSentinel/internal/notifier"
	"VaultSentinel/internal/recorder"
)

type fakeReader struct {
	owner      common.Address
	balance    *big.Int
	collateral *big.Int
	liability  *big.Int
}

func (f *fakeReader) VaultAsset(_ context.Context, _ common.Address) (common.Address, error) {
	return common.HexToAddress("0xaa"), nil
}
func (f *fakeReader) VaultOracle(_ context.Context, _ common.Address) (common.Address, error) {
	return common.HexToAddress("0xbb"), nil
}
func (f *fakeReader) VaultUnitOfAccount(_ context.Context, _ common.Address) (common.Address, error) {
	return common.HexToAddress("0xcc"), nil
}
func (f *fakeReader) VaultLTVList(_ context.Context, _ common.Address) ([]common.Address, error) {
	return nil, nil
}
func (f *fakeReader) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}
func (f *fakeReader) AccountLiquidity(_ context.Context, _, _ common.Address) (*big.Int, *big.Int, error) {
	return new(big.Int).Set(f.collateral), new(big.Int).Set(f.liability), nil
}
func (f *fakeReader) AccountOwner(_ context.Context, account common.Address) (common.Address, error) {
	if f.owner == (common.Address{}) {
		return account, nil
	}
	return f.owner, nil
}
func (f *fakeReader) SimulateAccountStatus(_ context.Context, _ []byte, _ *big.Int, _, _ common.Address) (*big.Int, *big.Int, error) {
	return new(big.Int).Set(f.collateral), new(big.Int).Set(f.liability), nil
}

type fakeFeeds struct{}

func (fakeFeeds) FeedIDs(_ context.Context, _ *model.Vault) ([]string, error) { return nil, nil }
func (fakeFeeds) UpdateData(_ context.Context, _ []string) ([]byte, error)    { return nil, nil }
func (fakeFeeds) UpdateFee(_ context.Context, _ []byte) (*big.Int, error) {
	return new(big.Int), nil
}

type fakeEngine struct {
	calls int
	plan  *liquidator.Plan
}

func (f *fakeEngine) Simulate(_ context.Context, _ *model.Vault, _ common.Address) (*liquidator.Plan, bool, error) {
	f.calls++
	if f.plan == nil {
		return nil, false, nil
	}
	return f.plan, true, nil
}

type captureNotifier struct {
	notifier.NoopNotifier
	unhealthy int
}

func (c *captureNotifier) UnhealthyAccount(_, _, _ common.Address, _ float64, _ *big.Int) {
	c.unhealthy++
}

func testMonitor(reader *fakeReader, engine *fakeEngine, notif notifier.Notifier, stateFile string) *Monitor {
	if notif == nil {
		notif = notifier.NewNoopNotifier()
	}
	return New(reader, fakeFeeds{}, engine, nil, notif, recorder.NewNoopRecorder(), Options{
		NumWorkers: 2,
		Policy: model.SchedulePolicy{
			HealthLowerBound: 1.02,
			HealthUpperBound: 1.5,
			MinInterval:      time.Minute,
			MaxInterval:      time.Hour,
		},
		StateFile: stateFile,
		Notify:    true,
	})
}

func TestRegisterOrUpdate_SchedulesImmediateCheck(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(0), liability: big.NewInt(0)}
	m := testMonitor(reader, &fakeEngine{}, nil, "")

	addr := common.HexToAddress("0x01")
	controller := common.HexToAddress("0x02")
	if err := m.RegisterOrUpdate(context.Background(), addr, controller); err != nil {
		t.Fatalf("register: %v", err)
	}

	acct, ok := m.Account(addr)
	if !ok {
		t.Fatal("account not registered")
	}
	if acct.Controller != controller {
		t.Errorf("controller = %s", acct.Controller.Hex())
	}
	at, ok := m.queue.nextAt()
	if !ok || at > time.Now().Unix() {
		t.Errorf("expected an immediate check, queued at %d (ok=%v)", at, ok)
	}
}

func TestRegisterOrUpdate_SameControllerKeepsSchedule(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(0), liability: big.NewInt(0)}
	m := testMonitor(reader, &fakeEngine{}, nil, "")

	addr := common.HexToAddress("0x01")
	controller := common.HexToAddress("0x02")
	ctx := context.Background()
	if err := m.RegisterOrUpdate(ctx, addr, controller); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := m.Account(addr)

	if err := m.RegisterOrUpdate(ctx, addr, controller); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	after, _ := m.Account(addr)
	if before != after {
		t.Error("registry entry replaced on duplicate event with unchanged controller")
	}

	// A controller change replaces the entry.
	other := common.HexToAddress("0x03")
	if err := m.RegisterOrUpdate(ctx, addr, other); err != nil {
		t.Fatalf("controller change: %v", err)
	}
	changed, _ := m.Account(addr)
	if changed == after {
		t.Error("expected fresh registry entry after controller change")
	}
	if changed.Controller != other {
		t.Errorf("controller = %s", changed.Controller.Hex())
	}
}

func TestCheckAccount_HealthDropTriggersEngine(t *testing.T) {
	reader := &fakeReader{
		balance:    big.NewInt(100),
		collateral: big.NewInt(105),
		liability:  big.NewInt(100),
	}
	engine := &fakeEngine{}
	notif := &captureNotifier{}
	m := testMonitor(reader, engine, notif, "")

	ctx := context.Background()
	addr := common.HexToAddress("0x01")
	if err := m.RegisterOrUpdate(ctx, addr, common.HexToAddress("0x02")); err != nil {
		t.Fatalf("register: %v", err)
	}
	acct, _ := m.Account(addr)

	// Healthy at 1.05: no engine call, rescheduled.
	if err := m.CheckAccount(ctx, acct); err != nil {
		t.Fatalf("check: %v", err)
	}
	if engine.calls != 0 {
		t.Fatalf("engine consulted for healthy account (%d calls)", engine.calls)
	}
	healthyNext := acct.NextCheck()
	if healthyNext <= time.Now().Unix() {
		t.Error("healthy account not rescheduled into the future")
	}

	// Price move drops the score to 0.98: engine consulted, operator told,
	// and the recheck lands sooner than the healthy schedule.
	reader.collateral = big.NewInt(98)
	if err := m.CheckAccount(ctx, acct); err != nil {
		t.Fatalf("check after drop: %v", err)
	}
	if engine.calls != 1 {
		t.Errorf("expected 1 engine call, got %d", engine.calls)
	}
	if notif.unhealthy != 1 {
		t.Errorf("expected 1 unhealthy notification, got %d", notif.unhealthy)
	}
	if acct.NextCheck() >= healthyNext {
		t.Errorf("unhealthy recheck at %d not sooner than healthy schedule %d",
			acct.NextCheck(), healthyNext)
	}
}

func TestCheckAccount_NoBorrowDeschedules(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(50), liability: big.NewInt(0)}
	m := testMonitor(reader, &fakeEngine{}, nil, "")

	ctx := context.Background()
	addr := common.HexToAddress("0x01")
	if err := m.RegisterOrUpdate(ctx, addr, common.HexToAddress("0x02")); err != nil {
		t.Fatalf("register: %v", err)
	}
	acct, _ := m.Account(addr)
	m.queue.popDue(time.Now().Unix())

	if err := m.CheckAccount(ctx, acct); err != nil {
		t.Fatalf("check: %v", err)
	}
	if acct.NextCheck() != model.NoBorrowSentinel {
		t.Errorf("expected no-borrow sentinel, got %d", acct.NextCheck())
	}
	if m.queue.Len() != 0 {
		t.Errorf("no-borrow account left on the schedule (%d entries)", m.queue.Len())
	}
}

func TestSaveAndLoadState_RestoreRechecksEverything(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(120), liability: big.NewInt(100)}
	m := testMonitor(reader, &fakeEngine{}, nil, stateFile)

	ctx := context.Background()
	addr := common.HexToAddress("0x01")
	if err := m.RegisterOrUpdate(ctx, addr, common.HexToAddress("0x02")); err != nil {
		t.Fatalf("register: %v", err)
	}
	acct, _ := m.Account(addr)
	if err := m.CheckAccount(ctx, acct); err != nil {
		t.Fatalf("check: %v", err)
	}
	m.SetLastSavedBlock(4242)
	if err := m.SaveState(); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := testMonitor(reader, &fakeEngine{}, nil, stateFile)
	restored, err := fresh.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !restored {
		t.Fatal("expected snapshot to be found")
	}
	if fresh.LastSavedBlock() != 4242 {
		t.Errorf("last saved block = %d", fresh.LastSavedBlock())
	}
	got, ok := fresh.Account(addr)
	if !ok {
		t.Fatal("account missing after restore")
	}
	// The snapshot is a cache: restored state carries no trusted health
	// score and the account is due for an immediate on-chain recheck.
	at, ok := fresh.queue.nextAt()
	if !ok || at > time.Now().Unix() {
		t.Errorf("restored account not scheduled immediately (at %d)", at)
	}
	if got.ValueBorrowed().Sign() != 0 {
		t.Error("restored account carries borrowed value from the file")
	}
}

func TestLoadState_MissingFileIsNotAnError(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(0), liability: big.NewInt(0)}
	m := testMonitor(reader, &fakeEngine{}, nil, filepath.Join(t.TempDir(), "absent.json"))
	restored, err := m.LoadState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored {
		t.Error("expected no snapshot")
	}
}

type reportNotifier struct {
	notifier.NoopNotifier
	entries  []notifier.ReportEntry
	total    int
	borrowed *big.Int
}

func (r *reportNotifier) HealthReport(entries []notifier.ReportEntry, totalAccounts int, totalBorrowed *big.Int) {
	r.entries = entries
	r.total = totalAccounts
	r.borrowed = totalBorrowed
}

func TestLowHealthReport_WorstFirstAndFiltered(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(0), liability: big.NewInt(0)}
	notif := &reportNotifier{}
	m := testMonitor(reader, &fakeEngine{}, notif, "")
	m.opts.ReportHealthThreshold = 1.05

	ctx := context.Background()
	addrs := []common.Address{
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		common.HexToAddress("0x03"),
	}
	scores := []float64{1.04, 1.01, 1.30}
	for i, a := range addrs {
		if err := m.RegisterOrUpdate(ctx, a, common.HexToAddress("0x10")); err != nil {
			t.Fatalf("register: %v", err)
		}
		acct, _ := m.Account(a)
		acct.ApplyCheck(nil, big.NewInt(100), scores[i], 0)
	}

	m.LowHealthReport()
	if notif.total != 3 {
		t.Errorf("total accounts = %d", notif.total)
	}
	if notif.borrowed.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("total borrowed = %s", notif.borrowed)
	}
	if len(notif.entries) != 2 {
		t.Fatalf("expected 2 entries at or below 1.05, got %d", len(notif.entries))
	}
	if notif.entries[0].Address != addrs[1] || notif.entries[1].Address != addrs[0] {
		t.Errorf("entries not sorted worst first: %v", notif.entries)
	}
}

func TestShouldNotifyUnhealthy_RateLimitsSmallPositions(t *testing.T) {
	reader := &fakeReader{balance: big.NewInt(0), collateral: big.NewInt(0), liability: big.NewInt(0)}
	m := testMonitor(reader, &fakeEngine{}, nil, "")
	m.opts.SmallBorrowThreshold = big.NewInt(1000)
	m.opts.NotifyCooldown = time.Hour

	addr := common.HexToAddress("0x01")
	dust := big.NewInt(10)
	if !m.shouldNotifyUnhealthy(addr, dust) {
		t.Fatal("first notification for a small position suppressed")
	}
	if m.shouldNotifyUnhealthy(addr, dust) {
		t.Error("second notification within the cooldown not suppressed")
	}

	// Large positions are never rate limited.
	whale := big.NewInt(5000)
	for i := 0; i < 3; i++ {
		if !m.shouldNotifyUnhealthy(addr, whale) {
			t.Fatal("large position notification suppressed")
		}
	}
}
