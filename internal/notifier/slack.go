package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SlackNotifier posts operator events to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL   string
	ChainName    string
	ChainID      int64
	ExplorerURL  string
	DashboardURL string
	Client       *http.Client
}

func NewSlackNotifier(webhookURL, chainName string, chainID int64, explorerURL, dashboardURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL:   webhookURL,
		ChainName:    chainName,
		ChainID:      chainID,
		ExplorerURL:  explorerURL,
		DashboardURL: dashboardURL,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) UnhealthyAccount(account, owner, vault common.Address, healthScore float64, valueBorrowed *big.Int) {
	s.post(formatUnhealthy(s, account, owner, vault, healthScore, valueBorrowed), ":robot_face:")
}

func (s *SlackNotifier) Opportunity(d *LiquidationData) {
	s.post(formatOpportunity(s, d), ":robot_face:")
}

func (s *SlackNotifier) Executed(d *LiquidationData) {
	s.post(formatExecuted(s, d), ":moneybag:")
}

func (s *SlackNotifier) Error(context string, err error) {
	s.post(formatError(s, context, err), ":warning:")
}

func (s *SlackNotifier) HealthReport(entries []ReportEntry, totalAccounts int, totalBorrowed *big.Int) {
	s.post(formatHealthReport(s, entries, totalAccounts, totalBorrowed), ":robot_face:")
}

func (s *SlackNotifier) post(text, emoji string) {
	if err := s.sendWithRetry(context.Background(), text, emoji, 3); err != nil {
		log.Printf("[ERROR] slack post failed: %v", err)
	}
}

func (s *SlackNotifier) send(text, emoji string) error {
	payload := map[string]string{
		"text":       text,
		"username":   "Liquidation Bot",
		"icon_emoji": emoji,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	resp, err := s.Client.Post(s.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *SlackNotifier) sendWithRetry(ctx context.Context, text, emoji string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := s.send(text, emoji); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * time.Second
			log.Printf("[WARN] slack send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}
