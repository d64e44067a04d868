package domain

import "github.com/shopspring/decimal"

// AmountScale 金额保留两位小数，与 DECIMAL(12,2) 列一致
const AmountScale = 2

// MaxAmount DECIMAL(12,2) 能存储的最大金额
var MaxAmount = decimal.RequireFromString("9999999999.99")

// ValidateAmount 校验金额非负、不超过两位小数且在列范围内
func ValidateAmount(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return BadRequestf("%s must not be negative", field)
	}
	if !v.Equal(v.Round(AmountScale)) {
		return BadRequestf("%s must have at most %d decimal places", field, AmountScale)
	}
	if v.GreaterThan(MaxAmount) {
		return BadRequestf("%s exceeds maximum %s", field, MaxAmount.StringFixed(AmountScale))
	}
	return nil
}
