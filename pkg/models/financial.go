package models

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// Well-known financial metric keys. Uploads may carry any other keys;
// they are stored and returned opaquely, only these feed derived stats.
const (
	KeyTotalAssets        = "total_assets"
	KeyTotalLiabilities   = "total_liabilities"
	KeyTotalEquity        = "total_equity"
	KeyCurrentAssets      = "current_assets"
	KeyCurrentLiabilities = "current_liabilities"
	KeyRevenue            = "revenue"
	KeyNetIncome          = "net_income"
)

var errNotAnObject = errors.New("financial payload must be a JSON object")

// ParseFinancialData extracts the numeric fields from an uploaded
// payload. Non-numeric values are skipped rather than rejected; the raw
// payload is what gets persisted.
func ParseFinancialData(raw []byte) (map[string]float64, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errNotAnObject
	}
	out := make(map[string]float64, len(obj))
	for k, v := range obj {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			out[k] = f
		}
	}
	return out, nil
}

// SheetStats is the derived view of one balance sheet. The ratios are
// nil, not zero, whenever either operand is absent or zero; a missing
// denominator is "undefined", never a division result.
type SheetStats struct {
	TotalAssets      float64 `json:"total_assets"`
	TotalLiabilities float64 `json:"total_liabilities"`
	TotalEquity      float64 `json:"total_equity"`
	CurrentRatio     *string `json:"current_ratio"`
	DebtToEquity     *string `json:"debt_to_equity"`
}

// ComputeStats derives summary statistics from a sheet's numeric
// fields. Ratios are fixed to two decimal places ("1.00"-style strings)
// so clients render them without float formatting drift.
func ComputeStats(data map[string]float64) SheetStats {
	stats := SheetStats{
		TotalAssets:      data[KeyTotalAssets],
		TotalLiabilities: data[KeyTotalLiabilities],
		TotalEquity:      data[KeyTotalEquity],
	}
	stats.CurrentRatio = ratio(data[KeyCurrentAssets], data[KeyCurrentLiabilities])
	stats.DebtToEquity = ratio(data[KeyTotalLiabilities], data[KeyTotalEquity])
	return stats
}

func ratio(num, den float64) *string {
	if num == 0 || den == 0 {
		return nil
	}
	s := decimal.NewFromFloat(num).Div(decimal.NewFromFloat(den)).StringFixed(2)
	return &s
}
