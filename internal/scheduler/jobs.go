// Package scheduler runs the periodic sweeps that keep case and plan state
// current as time passes: days-overdue recalculation and the installment
// overdue/default sweep.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kite/internal/installment"
)

// TenantLister enumerates the tenants a sweep visits.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// OverdueRefresher recomputes days overdue for a tenant's open cases.
type OverdueRefresher interface {
	RefreshOverdue(ctx context.Context, tenantID string) (int, error)
}

// PlanSweeper reviews a tenant's active plans for overdue installments and defaults.
type PlanSweeper interface {
	Sweep(ctx context.Context, tenantID string) (installment.SweepResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	tenants TenantLister
	cases   OverdueRefresher
	plans   PlanSweeper
	logger  *slog.Logger
	timeout time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(tenants TenantLister, cases OverdueRefresher, plans PlanSweeper, logger *slog.Logger) *Jobs {
	return &Jobs{
		tenants: tenants,
		cases:   cases,
		plans:   plans,
		logger:  logger,
		timeout: 10 * time.Minute,
	}
}

// RefreshDaysOverdue recalculates days overdue for every tenant. Changed
// cases are announced and re-enter the escalation pipeline.
func (j *Jobs) RefreshDaysOverdue() {
	j.logger.Info("starting days-overdue refresh job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	total := 0
	j.eachTenant(ctx, func(tenantID string) {
		changed, err := j.cases.RefreshOverdue(ctx, tenantID)
		if err != nil {
			j.logger.Error("failed to refresh days overdue", "tenant_id", tenantID, "error", err)
			return
		}
		total += changed
	})

	j.logger.Info("days-overdue refresh job finished", "changed_cases", total)
}

// SweepInstallments marks overdue installments and defaults plans with
// consecutive missed installments.
func (j *Jobs) SweepInstallments() {
	j.logger.Info("starting installment sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	var total installment.SweepResult
	j.eachTenant(ctx, func(tenantID string) {
		res, err := j.plans.Sweep(ctx, tenantID)
		if err != nil {
			j.logger.Error("failed to sweep installments", "tenant_id", tenantID, "error", err)
			return
		}
		total.Reviewed += res.Reviewed
		total.Updated += res.Updated
		total.Defaulted += res.Defaulted
	})

	j.logger.Info("installment sweep job finished",
		"reviewed_plans", total.Reviewed,
		"updated_plans", total.Updated,
		"defaulted_plans", total.Defaulted,
	)
}

// eachTenant runs fn per tenant, stopping early when ctx expires.
func (j *Jobs) eachTenant(ctx context.Context, fn func(tenantID string)) {
	tenantIDs, err := j.tenants.ListTenantIDs(ctx)
	if err != nil {
		j.logger.Error("failed to list tenants", "error", err)
		return
	}
	for i, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			j.logger.Warn("sweep deadline reached", "remaining_tenants", len(tenantIDs)-i)
			return
		}
		fn(tenantID)
	}
}
