// Package installment schedules payment-plan installments and applies
// payments to them.
package installment

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/money"
	"github.com/shopspring/decimal"
)

// Generate builds the installment series for a plan. The amount after the
// down payment is split evenly, truncated to cents, and the last installment
// takes the remainder so the series sums to exactly total - down.
// Due dates step by a fixed number of days from start.
func Generate(total, down decimal.Decimal, n int, freq domain.Frequency, start time.Time) ([]domain.Installment, error) {
	if n < 1 {
		return nil, ErrInvalidInstallmentCount
	}
	if !total.IsPositive() || down.IsNegative() {
		return nil, fmt.Errorf("%w: total %s, down payment %s", domain.ErrInvalidAmount, total, down)
	}
	if down.GreaterThan(total) {
		return nil, ErrDownPaymentExceedsTotal
	}
	days := freq.Days()
	if days == 0 {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidFrequency, freq)
	}

	remaining := total.Sub(down)
	per := money.Truncate(remaining.Div(decimal.NewFromInt(int64(n))))
	last := remaining.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))

	out := make([]domain.Installment, n)
	for i := range out {
		amount := per
		if i == n-1 {
			amount = last
		}
		out[i] = domain.Installment{
			Number:     i + 1,
			Amount:     amount,
			PaidAmount: decimal.Zero,
			DueDate:    money.AddDays(start, i*days),
			Status:     domain.InstallmentPending,
		}
	}
	return out, nil
}
