package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

const caseColumns = `
	id, tenant_id, invoice_id, customer_id, customer_name, customer_email, customer_phone,
	status, priority, total_amount, paid_amount, currency, due_date, days_overdue,
	assigned_agent, campaign_id, last_contact_at, next_action_at, notes, version,
	created_at, updated_at`

// closedStatuses are excluded by CaseFilter.OpenOnly and FindOpenCaseByInvoice.
var closedStatuses = []any{
	string(domain.CaseStatusResolved),
	string(domain.CaseStatusClosed),
	string(domain.CaseStatusWrittenOff),
}

// CreateCase inserts a new debt case at version 1.
func (r *SQLRepository) CreateCase(ctx context.Context, tenantID string, c *domain.DebtCase) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.TenantID = tenantID
	c.Version = 1

	query := `INSERT INTO debt_cases (` + caseColumns + `) VALUES (` + placeholders(22) + `)`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.InvoiceID, c.CustomerID, c.CustomerName, c.CustomerEmail, c.CustomerPhone,
		string(c.Status), string(c.Priority), c.TotalAmount, c.PaidAmount, c.Currency, c.DueDate.UTC(), c.DaysOverdue,
		c.AssignedAgent, c.CampaignID, nullableTime(c.LastContactAt), nullableTime(c.NextActionAt), c.Notes, c.Version,
		c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: case %s or an open case for invoice %s", domain.ErrDuplicate, c.ID, c.InvoiceID)
	}
	return err
}

// GetCase retrieves a debt case with tenant isolation.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.DebtCase, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + ` FROM debt_cases WHERE tenant_id = ? AND id = ?`
	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// UpdateCase writes every mutable field if the stored version matches c.Version.
// On success c.Version is advanced.
func (r *SQLRepository) UpdateCase(ctx context.Context, tenantID string, c *domain.DebtCase) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		UPDATE debt_cases SET
			customer_name = ?, customer_email = ?, customer_phone = ?,
			status = ?, priority = ?, total_amount = ?, paid_amount = ?, currency = ?,
			due_date = ?, days_overdue = ?, assigned_agent = ?, campaign_id = ?,
			last_contact_at = ?, next_action_at = ?, notes = ?,
			version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?
	`
	res, err := r.db.ExecContext(ctx, r.rebind(query),
		c.CustomerName, c.CustomerEmail, c.CustomerPhone,
		string(c.Status), string(c.Priority), c.TotalAmount, c.PaidAmount, c.Currency,
		c.DueDate.UTC(), c.DaysOverdue, c.AssignedAgent, c.CampaignID,
		nullableTime(c.LastContactAt), nullableTime(c.NextActionAt), c.Notes,
		now,
		tenantID, c.ID, c.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: another open case exists for invoice %s", domain.ErrDuplicate, c.InvoiceID)
	}
	if err != nil {
		return err
	}

	if err := expectOne(res); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.versionConflict(ctx, "debt_cases", tenantID, c.ID)
		}
		return err
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

// ListCases returns cases ordered by creation time.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string, filter domain.CaseFilter) ([]*domain.DebtCase, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var where strings.Builder
	args := []any{tenantID}
	where.WriteString("tenant_id = ?")

	if filter.Status != "" {
		where.WriteString(" AND status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.OpenOnly {
		where.WriteString(" AND status NOT IN (" + placeholders(len(closedStatuses)) + ")")
		args = append(args, closedStatuses...)
	}
	if filter.CustomerID != "" {
		where.WriteString(" AND customer_id = ?")
		args = append(args, filter.CustomerID)
	}

	query := `SELECT ` + caseColumns + ` FROM debt_cases WHERE ` + where.String() + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.DebtCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// FindOpenCaseByInvoice returns the oldest open case for an invoice.
func (r *SQLRepository) FindOpenCaseByInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.DebtCase, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + ` FROM debt_cases
		WHERE tenant_id = ? AND invoice_id = ? AND status NOT IN (` + placeholders(len(closedStatuses)) + `)
		ORDER BY created_at, id
		LIMIT 1`
	args := append([]any{tenantID, invoiceID}, closedStatuses...)

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// versionConflict distinguishes a stale version from a missing row after a
// zero-row conditional update.
func (r *SQLRepository) versionConflict(ctx context.Context, table, tenantID, id string) error {
	var one int
	query := `SELECT 1 FROM ` + table + ` WHERE tenant_id = ? AND id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

func scanCase(s scanner) (*domain.DebtCase, error) {
	var c domain.DebtCase
	var status, priority string
	var lastContact, nextAction sql.NullTime

	if err := s.Scan(
		&c.ID, &c.TenantID, &c.InvoiceID, &c.CustomerID, &c.CustomerName, &c.CustomerEmail, &c.CustomerPhone,
		&status, &priority, &c.TotalAmount, &c.PaidAmount, &c.Currency, &c.DueDate, &c.DaysOverdue,
		&c.AssignedAgent, &c.CampaignID, &lastContact, &nextAction, &c.Notes, &c.Version,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.Status = domain.CaseStatus(status)
	c.Priority = domain.Priority(priority)
	c.LastContactAt = timePtr(lastContact)
	c.NextActionAt = timePtr(nextAction)
	c.DueDate = c.DueDate.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
