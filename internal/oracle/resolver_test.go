package oracle

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"VaultSentinel/internal/model"
)

type fakeGraph struct {
	assets     map[common.Address]common.Address // vault -> underlying
	configured map[common.Address]common.Address // asset -> oracle adapter
	names      map[common.Address]string
	feeds      map[common.Address]string
	legs       map[common.Address][2]common.Address
}

func (f *fakeGraph) VaultAsset(_ context.Context, vault common.Address) (common.Address, error) {
	return f.assets[vault], nil
}
func (f *fakeGraph) ConfiguredOracle(_ context.Context, _, base, _ common.Address) (common.Address, error) {
	return f.configured[base], nil
}
func (f *fakeGraph) OracleName(_ context.Context, oracle common.Address) (string, error) {
	return f.names[oracle], nil
}
func (f *fakeGraph) OracleFeedID(_ context.Context, oracle common.Address) (string, error) {
	return f.feeds[oracle], nil
}
func (f *fakeGraph) CrossOracleLegs(_ context.Context, oracle common.Address) (common.Address, common.Address, error) {
	legs := f.legs[oracle]
	return legs[0], legs[1], nil
}
func (f *fakeGraph) UpdateFee(_ context.Context, _ []byte) (*big.Int, error) {
	return big.NewInt(1), nil
}

type fakeFetcher struct{}

func (fakeFetcher) UpdateData(_ context.Context, _ []string) ([]byte, error) {
	return []byte{0x01}, nil
}

func addr(b byte) common.Address { return common.BytesToAddress([]byte{b}) }

func TestFeedIDs_AllPushOraclesYieldsEmptySet(t *testing.T) {
	graph := &fakeGraph{
		assets:     map[common.Address]common.Address{},
		configured: map[common.Address]common.Address{addr(0x10): addr(0x20)},
		names:      map[common.Address]string{addr(0x20): "ChainlinkOracle"},
	}
	r := NewResolver(graph, fakeFetcher{}, time.Minute, 8)

	v := &model.Vault{Address: addr(1), Asset: addr(0x10), UnitOfAccount: addr(0xff)}
	ids, err := r.FeedIDs(context.Background(), v)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no pull feeds, got %v", ids)
	}
}

func TestFeedIDs_CrossOracleRecursionDeduplicates(t *testing.T) {
	// Borrow asset priced by a cross oracle (feed-a via leg1, feed-b via
	// leg2); the collateral's asset priced directly with feed-a again.
	graph := &fakeGraph{
		assets: map[common.Address]common.Address{
			addr(0x02): addr(0x11), // collateral vault -> its underlying
		},
		configured: map[common.Address]common.Address{
			addr(0x10): addr(0x20), // borrow asset -> cross
			addr(0x11): addr(0x23), // collateral asset -> pyth feed-a
		},
		names: map[common.Address]string{
			addr(0x20): "CrossOracle",
			addr(0x21): "PythOracle",
			addr(0x22): "PythOracle",
			addr(0x23): "PythOracle",
		},
		feeds: map[common.Address]string{
			addr(0x21): "feed-a",
			addr(0x22): "feed-b",
			addr(0x23): "feed-a",
		},
		legs: map[common.Address][2]common.Address{
			addr(0x20): {addr(0x21), addr(0x22)},
		},
	}
	r := NewResolver(graph, fakeFetcher{}, time.Minute, 8)

	v := &model.Vault{
		Address:       addr(1),
		Asset:         addr(0x10),
		UnitOfAccount: addr(0xff),
		LTVList:       []common.Address{addr(0x02)},
	}
	ids, err := r.FeedIDs(context.Background(), v)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 deduplicated feeds, got %v", ids)
	}
	want := map[string]bool{"feed-a": true, "feed-b": true}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected feed %q", id)
		}
	}
}

func TestFeedIDs_DepthCapStopsCyclicGraph(t *testing.T) {
	// A cross oracle whose legs point back at itself.
	graph := &fakeGraph{
		assets:     map[common.Address]common.Address{},
		configured: map[common.Address]common.Address{addr(0x10): addr(0x20)},
		names:      map[common.Address]string{addr(0x20): "CrossOracle"},
		legs: map[common.Address][2]common.Address{
			addr(0x20): {addr(0x20), addr(0x20)},
		},
	}
	r := NewResolver(graph, fakeFetcher{}, time.Minute, 4)

	v := &model.Vault{Address: addr(1), Asset: addr(0x10), UnitOfAccount: addr(0xff)}
	_, err := r.FeedIDs(context.Background(), v)
	if err == nil {
		t.Fatal("expected depth-cap error for cyclic oracle graph")
	}
	if !strings.Contains(err.Error(), "deeper than") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFeedIDs_CacheServesSecondCall(t *testing.T) {
	graph := &fakeGraph{
		assets:     map[common.Address]common.Address{},
		configured: map[common.Address]common.Address{addr(0x10): addr(0x21)},
		names:      map[common.Address]string{addr(0x21): "PythOracle"},
		feeds:      map[common.Address]string{addr(0x21): "feed-a"},
	}
	r := NewResolver(graph, fakeFetcher{}, time.Minute, 8)

	v := &model.Vault{Address: addr(1), Asset: addr(0x10), UnitOfAccount: addr(0xff)}
	first, err := r.FeedIDs(context.Background(), v)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Mutate the graph; a fresh resolve would now see only push oracles
	// and come back empty.
	graph.names = map[common.Address]string{}
	second, err := r.FeedIDs(context.Background(), v)
	if err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("cache not served: first %v, second %v", first, second)
	}
}
