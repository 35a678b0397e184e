package quoter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNoQuote is returned when no input amount whose output covers the target
// could be found. Callers treat it as "this collateral is not swappable", not
// as a fault.
var ErrNoQuote = errors.New("no quote covering target output")

// Searcher finds, for an exact-output requirement, the minimal input amount
// the quote service will accept, and fetches executable swap payloads.
type Searcher struct {
	BaseURL       string
	APIKey        string
	ChainID       int64
	Client        *http.Client
	RequestDelay  time.Duration
	MaxIterations int

	// Delta is the acceptable overswap as a fraction of the target output.
	Delta float64
}

func NewSearcher(baseURL, apiKey string, chainID int64, requestDelay time.Duration, maxIterations int, delta float64) *Searcher {
	return &Searcher{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		ChainID:       chainID,
		Client:        &http.Client{Timeout: 15 * time.Second},
		RequestDelay:  requestDelay,
		MaxIterations: maxIterations,
		Delta:         delta,
	}
}

// FindAmountIn searches for the smallest input amount of assetIn whose quoted
// output of assetOut covers targetOut. The returned output is always >=
// targetOut: the caller needs a guaranteed minimum repay amount, so the
// search prefers slight overswap over any shortfall. A zero targetOut is an
// exact-in quote and takes a single API call.
func (s *Searcher) FindAmountIn(ctx context.Context, assetIn, assetOut common.Address, available, targetOut *big.Int) (*big.Int, *big.Int, error) {
	if targetOut == nil || targetOut.Sign() == 0 {
		out, err := s.apiQuote(ctx, assetIn, assetOut, available)
		if err != nil {
			return nil, nil, err
		}
		return new(big.Int).Set(available), out, nil
	}

	// Seed the bounds from an inverse quote: how much assetIn does the
	// target output buy when quoted the other direction.
	seed, err := s.apiQuote(ctx, assetOut, assetIn, targetOut)
	if err != nil {
		return nil, nil, fmt.Errorf("seed quote: %w", err)
	}
	log.Printf("[INFO] quoter: seed %s %s in for %s %s out",
		seed, assetIn.Hex(), targetOut, assetOut.Hex())

	lower := mulFrac(seed, 95, 100)
	upper := mulFrac(seed, 105, 100)
	delta := fracOf(targetOut, s.Delta)

	var lastValidIn, lastValidOut *big.Int

	for i := 0; i < s.MaxIterations; i++ {
		if err := s.pause(ctx); err != nil {
			return nil, nil, err
		}

		mid := new(big.Int).Add(lower, upper)
		mid.Rsh(mid, 1)

		out, err := s.apiQuote(ctx, assetIn, assetOut, mid)
		if err != nil {
			if lastValidOut != nil {
				log.Printf("[WARN] quoter: quote failed mid-search, using last valid %s in / %s out: %v",
					lastValidIn, lastValidOut, err)
				return lastValidIn, lastValidOut, nil
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrNoQuote, err)
		}

		if out.Cmp(targetOut) > 0 {
			lastValidIn = new(big.Int).Set(mid)
			lastValidOut = new(big.Int).Set(out)

			overshoot := new(big.Int).Sub(out, targetOut)
			if overshoot.Cmp(delta) < 0 {
				return mid, out, nil
			}
			upper = mid
			continue
		}

		// Output short of target: raise the lower bound; if the window has
		// collapsed against the upper bound, widen it, capped at what we
		// actually hold.
		lower = mid
		gap := new(big.Int).Sub(upper, mid)
		if gap.Cmp(new(big.Int).Div(upper, big.NewInt(100))) < 0 {
			widened := mulFrac(upper, 3, 2)
			if widened.Cmp(available) > 0 {
				widened = new(big.Int).Set(available)
			}
			log.Printf("[INFO] quoter: widening upper bound to %s", widened)
			upper = widened
		}
	}

	if lastValidOut != nil {
		log.Printf("[WARN] quoter: search did not converge in %d iterations, using last valid %s in / %s out",
			s.MaxIterations, lastValidIn, lastValidOut)
		return lastValidIn, lastValidOut, nil
	}
	return nil, nil, ErrNoQuote
}

// SwapCalldata fetches an executable swap payload. The service returns an
// ordered list of call items tagged with a function name; only the item
// tagged as the swap step carries the calldata the liquidation needs.
func (s *Searcher) SwapCalldata(ctx context.Context, assetIn, assetOut common.Address, amountIn *big.Int, from, origin, receiver common.Address, slippagePct float64) ([]byte, error) {
	params := url.Values{}
	params.Set("src", assetIn.Hex())
	params.Set("dst", assetOut.Hex())
	params.Set("amount", amountIn.String())
	params.Set("from", from.Hex())
	params.Set("origin", origin.Hex())
	params.Set("receiver", receiver.Hex())
	params.Set("slippage", fmt.Sprintf("%g", slippagePct))
	params.Set("disableEstimate", "true")

	endpoint := fmt.Sprintf("%s/swap/v6.0/%d/swap?%s", s.BaseURL, s.ChainID, params.Encode())
	var result struct {
		Tx struct {
			Data string `json:"data"`
		} `json:"tx"`
		MulticallItems []struct {
			FunctionName string `json:"functionName"`
			Data         string `json:"data"`
		} `json:"multicallItems"`
	}
	if err := s.getJSON(ctx, endpoint, &result); err != nil {
		return nil, fmt.Errorf("fetch swap data: %w", err)
	}

	for _, item := range result.MulticallItems {
		if item.FunctionName == "swap" {
			return hexutil.Decode(item.Data)
		}
	}
	if result.Tx.Data != "" {
		return hexutil.Decode(result.Tx.Data)
	}
	return nil, fmt.Errorf("swap response has no swap call item")
}

func (s *Searcher) apiQuote(ctx context.Context, src, dst common.Address, amount *big.Int) (*big.Int, error) {
	params := url.Values{}
	params.Set("src", src.Hex())
	params.Set("dst", dst.Hex())
	params.Set("amount", amount.String())

	endpoint := fmt.Sprintf("%s/swap/v6.0/%d/quote?%s", s.BaseURL, s.ChainID, params.Encode())
	var result struct {
		DstAmount string `json:"dstAmount"`
	}
	if err := s.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	out, ok := new(big.Int).SetString(result.DstAmount, 10)
	if !ok {
		return nil, fmt.Errorf("bad dstAmount %q", result.DstAmount)
	}
	return out, nil
}

func (s *Searcher) getJSON(ctx context.Context, endpoint string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("quote api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote api: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// pause respects the external API rate limit between calls.
func (s *Searcher) pause(ctx context.Context) error {
	if s.RequestDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.RequestDelay):
		return nil
	}
}

func mulFrac(x *big.Int, num, den int64) *big.Int {
	r := new(big.Int).Mul(x, big.NewInt(num))
	return r.Div(r, big.NewInt(den))
}

func fracOf(x *big.Int, frac float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetInt(x), big.NewFloat(frac))
	r, _ := f.Int(nil)
	if r.Sign() == 0 {
		r = big.NewInt(1)
	}
	return r
}
