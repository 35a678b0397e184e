package notifier

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const reportMaxLines = 50

// spyLink builds the dashboard deep link for inspecting an account as its
// owner sees it.
func spyLink(s *SlackNotifier, account, owner common.Address) string {
	sub := new(big.Int).Xor(account.Big(), owner.Big())
	return fmt.Sprintf("%s/account/%s?spy=%s&chainId=%d", s.DashboardURL, sub, owner.Hex(), s.ChainID)
}

func weiToUnits(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}

func formatUnhealthy(s *SlackNotifier, account, owner, vault common.Address, healthScore float64, valueBorrowed *big.Int) string {
	var b strings.Builder
	b.WriteString(":warning: *Unhealthy Account Detected* :warning:\n\n")
	fmt.Fprintf(&b, "*Account*: `%s`, <%s|Spy Mode>\n", account.Hex(), spyLink(s, account, owner))
	fmt.Fprintf(&b, "*Vault*: `%s`\n", vault.Hex())
	fmt.Fprintf(&b, "*Health Score*: `%.4f`\n", healthScore)
	fmt.Fprintf(&b, "*Value Borrowed*: `$%.2f`\n", weiToUnits(valueBorrowed))
	fmt.Fprintf(&b, "Time of detection: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Network: `%s`\n", s.ChainName)
	return b.String()
}

func formatOpportunity(s *SlackNotifier, d *LiquidationData) string {
	var b strings.Builder
	b.WriteString(":rotating_light: *Profitable Liquidation Opportunity Detected* :rotating_light:\n\n")
	fmt.Fprintf(&b, "*Account*: `%s`, <%s|Spy Mode>\n", d.Account.Hex(), spyLink(s, d.Account, d.Owner))
	fmt.Fprintf(&b, "*Vault*: `%s`\n\n", d.Vault.Hex())
	b.WriteString("*Liquidation Opportunity Details:*\n")
	fmt.Fprintf(&b, "• Profit: %.6f ETH\n", weiToUnits(d.Profit))
	fmt.Fprintf(&b, "• Collateral Vault Address: `%s`\n", d.CollateralVault.Hex())
	fmt.Fprintf(&b, "• Collateral Asset: `%s`\n", d.CollateralAsset.Hex())
	fmt.Fprintf(&b, "• Leftover Collateral: %.6f\n", weiToUnits(d.Leftover))
	fmt.Fprintf(&b, "\nTime of detection: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Network: `%s`", s.ChainName)
	return b.String()
}

func formatExecuted(s *SlackNotifier, d *LiquidationData) string {
	var b strings.Builder
	b.WriteString(":moneybag: *Liquidation Completed* :moneybag:\n\n")
	fmt.Fprintf(&b, "*Liquidated Account*: `%s`, <%s|Spy Mode>\n", d.Account.Hex(), spyLink(s, d.Account, d.Owner))
	fmt.Fprintf(&b, "*Vault*: `%s`\n\n", d.Vault.Hex())
	b.WriteString("*Liquidation Details:*\n")
	fmt.Fprintf(&b, "• Profit: %.6f ETH\n", weiToUnits(d.Profit))
	fmt.Fprintf(&b, "• Collateral Vault Address: `%s`\n", d.CollateralVault.Hex())
	fmt.Fprintf(&b, "• Collateral Asset: `%s`\n", d.CollateralAsset.Hex())
	if d.TxHash != "" {
		fmt.Fprintf(&b, "• Transaction: <%s/tx/%s|View Transaction on Explorer>\n", s.ExplorerURL, d.TxHash)
	}
	fmt.Fprintf(&b, "\nTime of liquidation: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Network: `%s`", s.ChainName)
	return b.String()
}

func formatError(s *SlackNotifier, context string, err error) string {
	var b strings.Builder
	b.WriteString(":rotating_light: *Error Notification* :rotating_light:\n\n")
	fmt.Fprintf(&b, "%s: %v\n\n", context, err)
	fmt.Fprintf(&b, "Time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Network: `%s`", s.ChainName)
	return b.String()
}

func formatHealthReport(s *SlackNotifier, entries []ReportEntry, totalAccounts int, totalBorrowed *big.Int) string {
	var b strings.Builder
	b.WriteString(":warning: *Account Health Report* :warning:\n\n")
	if len(entries) == 0 {
		b.WriteString("No accounts below the report threshold detected.\n")
	} else {
		for i, e := range entries {
			if i >= reportMaxLines {
				break
			}
			fmt.Fprintf(&b, "%d. `%s` Health Score: `%.4f`, Value Borrowed: `$%.2f`, <%s|Spy Mode>\n",
				i+1, e.Address.Hex(), e.HealthScore, weiToUnits(e.ValueBorrowed), spyLink(s, e.Address, e.Owner))
		}
		fmt.Fprintf(&b, "\nTotal accounts below threshold: `%d`", len(entries))
	}
	fmt.Fprintf(&b, "\nTotal monitored accounts: `%d`", totalAccounts)
	fmt.Fprintf(&b, "\nTotal borrow amount in USD: `$%.2f`", weiToUnits(totalBorrowed))
	if s.DashboardURL != "" {
		fmt.Fprintf(&b, "\n<%s|Risk Dashboard>", s.DashboardURL)
	}
	fmt.Fprintf(&b, "\nTime of report: `%s`", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\nNetwork: `%s`", s.ChainName)
	return b.String()
}
