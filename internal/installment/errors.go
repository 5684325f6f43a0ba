package installment

import (
	"fmt"

	"github.com/opensource-finance/kite/internal/domain"
)

// Schedule and lifecycle errors. Each wraps a domain sentinel so callers can
// match either the specific error or its class.
var (
	ErrInvalidInstallmentCount = fmt.Errorf("%w: number of installments must be at least 1", domain.ErrInvalidInput)
	ErrDownPaymentExceedsTotal = fmt.Errorf("%w: down payment exceeds total amount", domain.ErrInvalidInput)
	ErrInvalidFrequency        = fmt.Errorf("%w: frequency must be weekly, biweekly or monthly", domain.ErrInvalidInput)
	ErrPlanNotActive           = fmt.Errorf("%w: plan is not active", domain.ErrInvalidTransition)
	ErrInstallmentNotFound     = fmt.Errorf("%w: installment", domain.ErrNotFound)
)
