package reporting

import (
	"encoding/csv"
	"strings"
	"time"

	"amm-ledger/internal/domain"
)

var csvHeader = []string{
	"kind", "timestamp", "type", "from_symbol", "to_symbol",
	"amount", "received", "price", "commission", "description",
}

// RenderCSV renders a user's history as CSV. Balance transactions come
// first, then exchanges, each newest first as stored.
func RenderCSV(h *domain.History) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	w.Write(csvHeader)
	if h != nil {
		for _, tx := range h.Transactions {
			w.Write([]string{
				"transaction",
				tx.Timestamp.UTC().Format(time.RFC3339),
				tx.Type,
				domain.BaseSymbol,
				"",
				domain.FormatAmount(tx.Amount, 2),
				"", "", "",
				tx.Description,
			})
		}
		for _, ex := range h.Exchanges {
			w.Write([]string{
				"exchange",
				ex.Timestamp.UTC().Format(time.RFC3339),
				"",
				ex.FromSymbol,
				ex.ToSymbol,
				domain.FormatAmount(ex.FromAmount, 4),
				domain.FormatAmount(ex.ToAmount, 4),
				domain.FormatAmount(ex.Price, 6),
				domain.FormatAmount(ex.Commission, 4),
				"",
			})
		}
	}

	// writes to a strings.Builder cannot fail
	w.Flush()
	return sb.String()
}
