package reconciler

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"VaultSentinel/internal/chain"
)

// LogSource is the slice of the RPC client the scanner needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Registry receives discovered account status checks and checkpoint updates.
type Registry interface {
	RegisterOrUpdate(ctx context.Context, address, controller common.Address) error
	SetLastSavedBlock(n uint64)
	SaveState() error
}

// Config holds the scanner's tuning.
type Config struct {
	EVC           common.Address
	BatchSize     uint64
	ScanInterval  time.Duration
	BatchInterval time.Duration
	Retries       int
	RetryDelay    time.Duration
}

// Reconciler replays account status-check events from chain logs into the
// monitor's registry: a historical catch-up from the last checkpoint, then a
// tip-following loop.
type Reconciler struct {
	src LogSource
	reg Registry
	cfg Config

	mu          sync.Mutex
	lastScanned uint64
}

func New(src LogSource, reg Registry, cfg Config) *Reconciler {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Reconciler{src: src, reg: reg, cfg: cfg}
}

// SetCheckpoint sets the last block already scanned. Scanning resumes at the
// next block.
func (r *Reconciler) SetCheckpoint(block uint64) {
	r.mu.Lock()
	r.lastScanned = block
	r.mu.Unlock()
}

// Checkpoint returns the last block whose logs were fully processed.
func (r *Reconciler) Checkpoint() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastScanned
}

// CatchUp scans from the checkpoint to the current head in fixed-size
// batches. The checkpoint advances only after a batch fully succeeds, so a
// crash mid-run resumes from the last completed batch. Each (account,
// controller) pair is registered once per run regardless of how many events
// it emitted.
func (r *Reconciler) CatchUp(ctx context.Context) error {
	head, err := r.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}
	start := r.Checkpoint() + 1
	if start > head {
		return nil
	}
	log.Printf("[INFO] reconciler: catching up blocks %d..%d", start, head)

	seen := make(map[common.Address]common.Address)
	for start <= head {
		end := start + r.cfg.BatchSize - 1
		if end > head {
			end = head
		}
		if err := r.scanRange(ctx, start, end, seen); err != nil {
			return fmt.Errorf("scan %d..%d: %w", start, end, err)
		}
		r.advance(end)
		// Persist after every completed batch so a crash resumes from the
		// last scanned block instead of the deployment block.
		if err := r.reg.SaveState(); err != nil {
			log.Printf("[WARN] reconciler: saving state after block %d: %v", end, err)
		}
		start = end + 1

		if start <= head && r.cfg.BatchInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.BatchInterval):
			}
		}
	}
	log.Printf("[INFO] reconciler: caught up to block %d, %d unique accounts", head, len(seen))
	return nil
}

// FollowTip scans new blocks as they arrive, blocking until ctx is
// cancelled. It stays one block behind the head so shallow reorgs do not
// surface half-applied state. Scan failures are logged and retried on the
// next tick without advancing the checkpoint.
func (r *Reconciler) FollowTip(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := r.src.BlockNumber(ctx)
		if err != nil {
			log.Printf("[WARN] reconciler: head block: %v", err)
			continue
		}
		if head == 0 {
			continue
		}
		safe := head - 1
		from := r.Checkpoint() + 1
		if from > safe {
			continue
		}

		for from <= safe {
			to := from + r.cfg.BatchSize - 1
			if to > safe {
				to = safe
			}
			if err := r.scanRange(ctx, from, to, nil); err != nil {
				log.Printf("[ERROR] reconciler: scan %d..%d: %v", from, to, err)
				break
			}
			r.advance(to)
			from = to + 1
		}
	}
}

// scanRange fetches and applies status-check logs for one block range, with
// bounded retries on transport failure. seen, when non-nil, dedupes
// registrations across a catch-up run; a changed controller always
// re-registers.
func (r *Reconciler) scanRange(ctx context.Context, from, to uint64, seen map[common.Address]common.Address) error {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{r.cfg.EVC},
		Topics:    [][]common.Hash{{chain.StatusCheckTopic()}},
	}

	var logs []types.Log
	var err error
	for attempt := 1; attempt <= r.cfg.Retries; attempt++ {
		logs, err = r.src.FilterLogs(ctx, q)
		if err == nil {
			break
		}
		if attempt == r.cfg.Retries {
			return fmt.Errorf("filter logs: all %d attempts failed: %w", r.cfg.Retries, err)
		}
		log.Printf("[WARN] reconciler: filter logs %d..%d (attempt %d/%d): %v",
			from, to, attempt, r.cfg.Retries, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryDelay):
		}
	}

	for _, lg := range logs {
		account, controller, err := chain.ParseStatusCheck(lg)
		if err != nil {
			log.Printf("[WARN] reconciler: bad status-check log in block %d: %v", lg.BlockNumber, err)
			continue
		}
		if seen != nil {
			if prev, ok := seen[account]; ok && prev == controller {
				continue
			}
			seen[account] = controller
		}
		if err := r.reg.RegisterOrUpdate(ctx, account, controller); err != nil {
			log.Printf("[WARN] reconciler: registering %s: %v", account.Hex(), err)
		}
	}
	if len(logs) > 0 {
		log.Printf("[INFO] reconciler: blocks %d..%d: %d status-check event(s)", from, to, len(logs))
	}
	return nil
}

func (r *Reconciler) advance(block uint64) {
	r.mu.Lock()
	r.lastScanned = block
	r.mu.Unlock()
	r.reg.SetLastSavedBlock(block)
}
