package sqlstore

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/marcboeker/go-duckdb"
)

// convertDuckDB maps go-duckdb's struct values to types the JSON value
// mapping understands.
func convertDuckDB(v any) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		return decimalNumber(x.Value, int(x.Scale))
	case duckdb.Interval:
		return map[string]any{
			"months": x.Months,
			"days":   x.Days,
			"micros": x.Micros,
		}
	}
	return v
}

// decimalNumber renders unscaled * 10^-scale exactly.
func decimalNumber(unscaled *big.Int, scale int) any {
	if unscaled == nil {
		return nil
	}
	digits := new(big.Int).Abs(unscaled).String()
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if unscaled.Sign() < 0 {
		digits = "-" + digits
	}
	return json.Number(digits)
}
