package oracle

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"VaultSentinel/internal/model"
)

// Oracle adapter names the resolver dispatches on.
const (
	pythOracleName  = "PythOracle"
	crossOracleName = "CrossOracle"
)

// ContractReader is the slice of chain reads the resolver needs.
type ContractReader interface {
	VaultAsset(ctx context.Context, vault common.Address) (common.Address, error)
	ConfiguredOracle(ctx context.Context, router, base, quote common.Address) (common.Address, error)
	OracleName(ctx context.Context, oracle common.Address) (string, error)
	OracleFeedID(ctx context.Context, oracle common.Address) (string, error)
	CrossOracleLegs(ctx context.Context, oracle common.Address) (common.Address, common.Address, error)
	UpdateFee(ctx context.Context, updateData []byte) (*big.Int, error)
}

// UpdateFetcher fetches signed price updates for a feed set.
type UpdateFetcher interface {
	UpdateData(ctx context.Context, feedIDs []string) ([]byte, error)
}

// Resolver walks a vault's configured oracle graph to find pull-oracle feed
// dependencies, and produces the update payload and fee needed to simulate
// reads against them.
type Resolver struct {
	reader   ContractReader
	fetcher  UpdateFetcher
	cacheTTL time.Duration
	maxDepth int
}

func NewResolver(reader ContractReader, fetcher UpdateFetcher, cacheTTL time.Duration, maxDepth int) *Resolver {
	return &Resolver{reader: reader, fetcher: fetcher, cacheTTL: cacheTTL, maxDepth: maxDepth}
}

// FeedIDs returns the deduplicated pull-oracle feed IDs the vault's pricing
// depends on. An empty set means every oracle in the graph is push-style and
// plain reads are safe. Results are cached on the vault with a TTL.
func (r *Resolver) FeedIDs(ctx context.Context, v *model.Vault) ([]string, error) {
	if ids, ok := v.CachedFeedIDs(r.cacheTTL); ok {
		return ids, nil
	}

	assets := []common.Address{v.Asset}
	for _, collateralVault := range v.LTVList {
		asset, err := r.reader.VaultAsset(ctx, collateralVault)
		if err != nil {
			return nil, fmt.Errorf("underlying of collateral %s: %w", collateralVault.Hex(), err)
		}
		assets = append(assets, asset)
	}

	seen := make(map[string]struct{})
	var feedIDs []string
	for _, asset := range assets {
		configured, err := r.reader.ConfiguredOracle(ctx, v.Oracle, asset, v.UnitOfAccount)
		if err != nil {
			return nil, fmt.Errorf("configured oracle for %s: %w", asset.Hex(), err)
		}
		if configured == (common.Address{}) {
			continue
		}
		ids, err := r.resolveOracle(ctx, configured, 0)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			feedIDs = append(feedIDs, id)
		}
	}

	v.SetFeedIDs(feedIDs)
	return feedIDs, nil
}

// resolveOracle descends into one oracle adapter. Cross oracles recurse into
// both legs; the depth cap turns a cyclic or pathological configuration into
// a resolution failure instead of a hang.
func (r *Resolver) resolveOracle(ctx context.Context, oracle common.Address, depth int) ([]string, error) {
	if depth > r.maxDepth {
		return nil, fmt.Errorf("oracle graph at %s deeper than %d levels", oracle.Hex(), r.maxDepth)
	}

	name, err := r.reader.OracleName(ctx, oracle)
	if err != nil {
		return nil, fmt.Errorf("oracle name at %s: %w", oracle.Hex(), err)
	}

	switch name {
	case pythOracleName:
		id, err := r.reader.OracleFeedID(ctx, oracle)
		if err != nil {
			return nil, fmt.Errorf("feed id at %s: %w", oracle.Hex(), err)
		}
		log.Printf("[INFO] resolver: pull oracle %s feed %s", oracle.Hex(), id)
		return []string{id}, nil
	case crossOracleName:
		base, quote, err := r.reader.CrossOracleLegs(ctx, oracle)
		if err != nil {
			return nil, fmt.Errorf("cross legs at %s: %w", oracle.Hex(), err)
		}
		baseIDs, err := r.resolveOracle(ctx, base, depth+1)
		if err != nil {
			return nil, err
		}
		quoteIDs, err := r.resolveOracle(ctx, quote, depth+1)
		if err != nil {
			return nil, err
		}
		return append(baseIDs, quoteIDs...), nil
	default:
		// Push oracle, readable without an update.
		return nil, nil
	}
}

// UpdateData fetches the latest signed update for a feed set.
func (r *Resolver) UpdateData(ctx context.Context, feedIDs []string) ([]byte, error) {
	return r.fetcher.UpdateData(ctx, feedIDs)
}

// UpdateFee asks the on-chain pull oracle what applying the update costs.
func (r *Resolver) UpdateFee(ctx context.Context, updateData []byte) (*big.Int, error) {
	return r.reader.UpdateFee(ctx, updateData)
}
