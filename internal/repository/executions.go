package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/kite/internal/domain"
)

// SaveExecution appends a rule execution record.
func (r *SQLRepository) SaveExecution(ctx context.Context, tenantID string, exec *domain.RuleExecution) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	actions, err := json.Marshal(exec.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	outcomes, err := json.Marshal(exec.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	query := `
		INSERT INTO rule_executions (
			id, tenant_id, rule_id, case_id, executed_at, actions, outcomes, result, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		exec.ID, tenantID, exec.RuleID, exec.CaseID, exec.ExecutedAt.UTC(),
		string(actions), string(outcomes), string(exec.Result), exec.DurationMs,
	)
	return err
}

// ListExecutions returns executions newest first.
func (r *SQLRepository) ListExecutions(ctx context.Context, tenantID string, filter domain.ExecutionFilter) ([]*domain.RuleExecution, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var where strings.Builder
	args := []any{tenantID}
	where.WriteString("tenant_id = ?")

	if filter.RuleID != "" {
		where.WriteString(" AND rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.CaseID != "" {
		where.WriteString(" AND case_id = ?")
		args = append(args, filter.CaseID)
	}
	if !filter.Since.IsZero() {
		where.WriteString(" AND executed_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, tenant_id, rule_id, case_id, executed_at, actions, outcomes, result, duration_ms
		FROM rule_executions
		WHERE ` + where.String() + `
		ORDER BY executed_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*domain.RuleExecution
	for rows.Next() {
		var e domain.RuleExecution
		var actions, outcomes, result string

		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.RuleID, &e.CaseID, &e.ExecutedAt,
			&actions, &outcomes, &result, &e.DurationMs,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actions), &e.Actions); err != nil {
			return nil, fmt.Errorf("failed to parse actions for execution %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(outcomes), &e.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to parse outcomes for execution %s: %w", e.ID, err)
		}
		e.Result = domain.ExecutionResult(result)
		e.ExecutedAt = e.ExecutedAt.UTC()
		execs = append(execs, &e)
	}
	return execs, rows.Err()
}
