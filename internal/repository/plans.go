package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

const planColumns = `
	id, tenant_id, customer_id, case_id, status, currency, total_amount, down_payment,
	paid_amount, remaining_amount, number_of_installments, frequency, start_date,
	accepted_at, completed_at, defaulted_at, cancelled_at, version, created_at, updated_at`

// errStalePlan marks a zero-row conditional plan update inside a transaction.
var errStalePlan = errors.New("stale plan version")

const installmentColumns = `
	id, tenant_id, plan_id, installment_number, amount, paid_amount, due_date, status, paid_at`

// CreatePlan inserts a plan and its installment schedule in one transaction.
func (r *SQLRepository) CreatePlan(ctx context.Context, tenantID string, plan *domain.PaymentPlan, installments []*domain.Installment) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	plan.TenantID = tenantID
	plan.Version = 1

	query := r.rebind(`INSERT INTO payment_plans (` + planColumns + `) VALUES (` + placeholders(20) + `)`)

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			plan.ID, tenantID, plan.CustomerID, plan.CaseID, string(plan.Status), plan.Currency,
			plan.TotalAmount, plan.DownPayment, plan.PaidAmount, plan.RemainingAmount,
			plan.NumberOfInstallments, string(plan.Frequency), plan.StartDate.UTC(),
			nullableTime(plan.AcceptedAt), nullableTime(plan.CompletedAt),
			nullableTime(plan.DefaultedAt), nullableTime(plan.CancelledAt),
			plan.Version, plan.CreatedAt, plan.UpdatedAt,
		); err != nil {
			return err
		}
		return r.insertInstallments(ctx, tx, tenantID, plan.ID, installments)
	})
}

// GetPlan retrieves a plan with tenant isolation.
func (r *SQLRepository) GetPlan(ctx context.Context, tenantID string, planID string) (*domain.PaymentPlan, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + planColumns + ` FROM payment_plans WHERE tenant_id = ? AND id = ?`
	plan, err := scanPlan(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, planID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return plan, err
}

// UpdatePlan writes the plan if the stored version matches plan.Version and
// rewrites the given installments in the same transaction.
func (r *SQLRepository) UpdatePlan(ctx context.Context, tenantID string, plan *domain.PaymentPlan, installments []*domain.Installment) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	planQuery := r.rebind(`
		UPDATE payment_plans SET
			status = ?, paid_amount = ?, remaining_amount = ?,
			accepted_at = ?, completed_at = ?, defaulted_at = ?, cancelled_at = ?,
			version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?
	`)
	instQuery := r.rebind(`
		UPDATE installments SET paid_amount = ?, status = ?, paid_at = ?
		WHERE tenant_id = ? AND plan_id = ? AND installment_number = ?
	`)

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, planQuery,
			string(plan.Status), plan.PaidAmount, plan.RemainingAmount,
			nullableTime(plan.AcceptedAt), nullableTime(plan.CompletedAt),
			nullableTime(plan.DefaultedAt), nullableTime(plan.CancelledAt),
			now,
			tenantID, plan.ID, plan.Version,
		)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return errStalePlan
		}

		for _, inst := range installments {
			res, err := tx.ExecContext(ctx, instQuery,
				inst.PaidAmount, string(inst.Status), nullableTime(inst.PaidAt),
				tenantID, plan.ID, inst.Number,
			)
			if err != nil {
				return err
			}
			if err := expectOne(res); err != nil {
				return fmt.Errorf("installment %d: %w", inst.Number, err)
			}
		}
		return nil
	})
	if errors.Is(err, errStalePlan) {
		return r.versionConflict(ctx, "payment_plans", tenantID, plan.ID)
	}
	if err != nil {
		return err
	}

	plan.Version++
	plan.UpdatedAt = now
	return nil
}

// ListPlans returns plans, optionally narrowed to one status.
func (r *SQLRepository) ListPlans(ctx context.Context, tenantID string, status domain.PlanStatus) ([]*domain.PaymentPlan, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + planColumns + ` FROM payment_plans WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.PaymentPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// ListInstallments returns a plan's installments ordered by number.
func (r *SQLRepository) ListInstallments(ctx context.Context, tenantID string, planID string) ([]*domain.Installment, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + installmentColumns + ` FROM installments
		WHERE tenant_id = ? AND plan_id = ?
		ORDER BY installment_number`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var installments []*domain.Installment
	for rows.Next() {
		var inst domain.Installment
		var status string
		var paidAt sql.NullTime

		if err := rows.Scan(
			&inst.ID, &inst.TenantID, &inst.PlanID, &inst.Number,
			&inst.Amount, &inst.PaidAmount, &inst.DueDate, &status, &paidAt,
		); err != nil {
			return nil, err
		}
		inst.Status = domain.InstallmentStatus(status)
		inst.PaidAt = timePtr(paidAt)
		inst.DueDate = inst.DueDate.UTC()
		installments = append(installments, &inst)
	}
	return installments, rows.Err()
}

func (r *SQLRepository) insertInstallments(ctx context.Context, tx *sql.Tx, tenantID, planID string, installments []*domain.Installment) error {
	query := r.rebind(`INSERT INTO installments (` + installmentColumns + `) VALUES (` + placeholders(9) + `)`)
	for _, inst := range installments {
		inst.TenantID = tenantID
		inst.PlanID = planID
		if _, err := tx.ExecContext(ctx, query,
			inst.ID, tenantID, planID, inst.Number,
			inst.Amount, inst.PaidAmount, inst.DueDate.UTC(), string(inst.Status), nullableTime(inst.PaidAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func scanPlan(s scanner) (*domain.PaymentPlan, error) {
	var p domain.PaymentPlan
	var status, frequency string
	var accepted, completed, defaulted, cancelled sql.NullTime

	if err := s.Scan(
		&p.ID, &p.TenantID, &p.CustomerID, &p.CaseID, &status, &p.Currency,
		&p.TotalAmount, &p.DownPayment, &p.PaidAmount, &p.RemainingAmount,
		&p.NumberOfInstallments, &frequency, &p.StartDate,
		&accepted, &completed, &defaulted, &cancelled,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Status = domain.PlanStatus(status)
	p.Frequency = domain.Frequency(frequency)
	p.AcceptedAt = timePtr(accepted)
	p.CompletedAt = timePtr(completed)
	p.DefaultedAt = timePtr(defaulted)
	p.CancelledAt = timePtr(cancelled)
	p.StartDate = p.StartDate.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
