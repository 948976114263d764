package dispatcher

import (
	"github.com/shopspring/decimal"
)

// Fee 手续费规则
type Fee struct {
	Percent    decimal.Decimal
	FixedCents int64
}

// FeeFunc 手续费协作方，按金额和币种返回费率，在 AmountSet 时调用一次
type FeeFunc func(amountCents int64, currency string) Fee

// FlatFee 固定费率
func FlatFee(percent decimal.Decimal, fixedCents int64) FeeFunc {
	return func(int64, string) Fee {
		return Fee{Percent: percent, FixedCents: fixedCents}
	}
}

// Cents 计算手续费金额（分），按分向上取整
func (f Fee) Cents(amountCents int64) int64 {
	pct := decimal.NewFromInt(amountCents).Mul(f.Percent).Div(decimal.NewFromInt(100)).Ceil()
	total := pct.IntPart() + f.FixedCents
	if total < 0 {
		return 0
	}
	if total > amountCents {
		return amountCents
	}
	return total
}
