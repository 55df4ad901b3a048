package forecast

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ManualString renders rows as "YYYY-MM-DD=count,sum,fixed;..." with the
// count as an integer, the sum to 2 decimals and the ratio to 3.
func ManualString(rows []Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = r.Date.Format(dateLayout) + "=" +
			decimal.NewFromFloat(r.ReserveCount).StringFixed(0) + "," +
			decimal.NewFromFloat(r.ReserveSum).StringFixed(2) + "," +
			decimal.NewFromFloat(r.FixedRatio).StringFixed(3)
	}
	return strings.Join(parts, ";")
}
