package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HermesClient fetches signed pull-oracle price updates from a Hermes-style
// HTTP endpoint.
type HermesClient struct {
	BaseURL string
	Client  *http.Client
}

func NewHermesClient(baseURL string) *HermesClient {
	return &HermesClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// UpdateData returns the binary update blob for the given feed IDs.
func (h *HermesClient) UpdateData(ctx context.Context, feedIDs []string) ([]byte, error) {
	if len(feedIDs) == 0 {
		return nil, fmt.Errorf("no feed ids to fetch")
	}

	q := url.Values{}
	for _, id := range feedIDs {
		q.Add("ids[]", id)
	}
	endpoint := fmt.Sprintf("%s/v2/updates/price/latest?%s", h.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch price update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch price update: status %d", resp.StatusCode)
	}

	var result struct {
		Binary struct {
			Data []string `json:"data"`
		} `json:"binary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode price update: %w", err)
	}
	if len(result.Binary.Data) == 0 {
		return nil, fmt.Errorf("price update response has no data")
	}

	blob, err := hex.DecodeString(result.Binary.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode update hex: %w", err)
	}
	return blob, nil
}
