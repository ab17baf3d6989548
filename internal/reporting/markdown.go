package reporting

import (
	"fmt"
	"strings"
	"time"

	"amm-ledger/internal/domain"
)

// RenderMarkdown renders s as a Markdown account statement.
func RenderMarkdown(s *Statement) string {
	var sb strings.Builder

	sb.WriteString("# Account Statement\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", s.GeneratedAt.UTC().Format(time.RFC3339)))

	// Account
	sb.WriteString("## Account\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	if s.User != nil {
		sb.WriteString(fmt.Sprintf("| Username | %s |\n", s.User.Username))
		sb.WriteString(fmt.Sprintf("| %s balance | %s |\n", domain.BaseSymbol, domain.FormatAmount(s.User.Balance, 2)))
		sb.WriteString(fmt.Sprintf("| Member since | %s |\n", s.User.CreatedAt.UTC().Format("2006-01-02")))
	}
	sb.WriteString(fmt.Sprintf("| Portfolio value | %s %s |\n\n", domain.FormatAmount(s.PortfolioValue(), 2), domain.BaseSymbol))

	// Holdings
	sb.WriteString("## Holdings\n\n")
	if len(s.Wallets) == 0 {
		sb.WriteString("No token holdings.\n\n")
	} else {
		sb.WriteString("| Symbol | Name | Balance | Price | Value |\n")
		sb.WriteString("|--------|------|---------|-------|-------|\n")
		for _, w := range s.Wallets {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				w.Symbol, w.Name,
				domain.FormatAmount(w.Balance, 4),
				domain.FormatAmount(w.Price, 6),
				domain.FormatAmount(w.Balance*w.Price, 2),
			))
		}
		sb.WriteString("\n")
	}

	var txs []*domain.Transaction
	var exs []*domain.ExchangeTransaction
	if s.History != nil {
		txs, exs = s.History.Transactions, s.History.Exchanges
	}

	// Transactions
	sb.WriteString("## Transactions\n\n")
	if len(txs) == 0 {
		sb.WriteString("No transactions.\n\n")
	} else {
		sb.WriteString("| Time | Type | Amount | Description |\n")
		sb.WriteString("|------|------|--------|-------------|\n")
		for _, tx := range txs {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				tx.Timestamp.UTC().Format(time.RFC3339),
				tx.Type,
				domain.FormatAmount(tx.Amount, 2),
				strings.ReplaceAll(tx.Description, "|", `\|`),
			))
		}
		sb.WriteString("\n")
	}

	// Exchanges
	sb.WriteString("## Exchanges\n\n")
	if len(exs) == 0 {
		sb.WriteString("No exchanges.\n")
	} else {
		sb.WriteString("| Time | From | To | Amount | Received | Price | Commission |\n")
		sb.WriteString("|------|------|----|--------|----------|-------|------------|\n")
		for _, ex := range exs {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
				ex.Timestamp.UTC().Format(time.RFC3339),
				ex.FromSymbol, ex.ToSymbol,
				domain.FormatAmount(ex.FromAmount, 4),
				domain.FormatAmount(ex.ToAmount, 4),
				domain.FormatAmount(ex.Price, 6),
				domain.FormatAmount(ex.Commission, 4),
			))
		}
	}

	return sb.String()
}
